// Package raster reads and writes the multi-band rasters that make up a
// MARIDA patch and loads the three aligned rasters of one patch together.
//
// # Layout
//
// A Raster is a dense float32 array of shape (Bands, Height, Width), stored
// band-major: the value for band b at row y, column x lives at
// Data[b*Height*Width + y*Width + x]. Band numbers in this package's public
// API are 1-based, matching GDAL and rasterio conventions; array indices are
// 0-based.
//
// # TIFF Support
//
// Decode understands the subset of TIFF 6.0 that GDAL emits for GeoTIFF
// patches:
//   - Byte order: little ("II") and big ("MM") endian. BigTIFF is rejected.
//   - Organisation: strips or tiles, chunky (PlanarConfiguration=1) or
//     planar (PlanarConfiguration=2).
//   - Compression: none, LZW, Deflate (both tag values), PackBits.
//   - Predictor: none, horizontal differencing, floating point.
//   - Samples: unsigned and signed integers of 8, 16, 32 and 64 bits,
//     IEEE floats of 32 and 64 bits.
//
// GeoTIFF pixel scale and tie point tags and the GDAL nodata tag are read into
// Raster.Geo and Raster.NoData when present; other tags are ignored. Only the
// first image file directory is decoded.
//
// # Loading Patches
//
// Loader.Load reads the image, class mask and confidence mask of one patch,
// keeps the configured image bands, and verifies that all three share the same
// spatial dimensions. It never returns a partially populated Patch: any
// missing file, unreadable raster or misalignment fails the whole load.
//
// # Thread Safety
//
// Decode, Encode and Loader.Load are safe for concurrent use. Each Load opens
// its own file handles and closes them on every exit path. Cache is safe for
// concurrent use and hands out clones, so callers may mutate what they get.
package raster
