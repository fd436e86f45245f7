// Package patch derives on-disk raster locations from MARIDA patch identifiers.
//
// A patch identifier is an opaque token of the form "<date>_<tile>_<index>",
// for example "1-12-19_48MYU_0". Every identifier maps to three aligned raster
// files living in a per-scene directory under the patch root:
//
//	<root>/S2_1-12-19_48MYU/S2_1-12-19_48MYU_0.tif       image
//	<root>/S2_1-12-19_48MYU/S2_1-12-19_48MYU_0_cl.tif    class mask
//	<root>/S2_1-12-19_48MYU/S2_1-12-19_48MYU_0_conf.tif  confidence mask
//
// The label table is keyed by the image file name alone ("S2_<id>.tif"); see
// LabelKey. Both naming rules live in this package so they cannot drift apart.
//
// # Purity
//
// Resolution performs no I/O and no existence checks. It is a pure function of
// the identifier and the configured root, and is safe for concurrent use.
package patch
