// Package preview renders quick-look images of corpus samples.
//
// A sample is raw multi-band reflectance plus two single-band masks, none of
// which a person can look at directly. This package turns them into 8-bit
// images: a true-color composite of the image, a heat map of the confidence
// mask and an overlay of the class mask on the composite. Panels can be
// cropped to a named region, scaled and joined into one strip.
//
// # Coordinate System
//
// Pixel coordinates are 0-based with (0,0) at the top-left corner, X to the
// right and Y downwards, matching raster.Raster's (row, column) indexing.
// Regions are half-open: (X1,Y1) inclusive, (X2,Y2) exclusive.
//
// # Class Codes
//
// MARIDA class masks store codes 1 to 15; 0 marks unlabeled pixels. Code c
// corresponds to labels.ClassNames[c-1] and to ClassPalette[c-1].
//
// # Output
//
// Encoded results are PNG, returned base64 encoded so they can travel inside
// a JSON-RPC response, or written to disk with Save.
package preview
