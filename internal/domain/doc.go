// Package domain models GFS wave forecast data and the rules for turning
// per-step gridded records into per-variable arrays.
//
// # Data Source
//
// Forecasts originate from the NOAA Global Forecast System wave component
// (GFS-Wave), published on NOMADS as one GRIB2 file per forecast step:
//
//	gfs.{YYYYMMDD}/00/wave/gridded/gfswave.t00z.global.0p25.f{HHH}.grib2
//
// Each file carries every variable at one forecast step on the 0.25 degree
// global grid (1440x721 points, 90N..90S, 0..359.75E). Steps are hourly
// through f120, then 3-hourly through f240, for 161 steps at full horizon.
// Only the 00Z cycle is archived.
//
// # Variable Identities
//
// GRIB2 names nothing: a record is identified by (discipline, parameter
// category, parameter number) plus its product definition. The Catalog maps
// those triples to store names:
//
//	discipline 0 (meteorological), category 2 (momentum):
//	  0 wdir   1 ws   2 u   3 v
//	discipline 10 (oceanographic), category 0 (waves):
//	  3 swh   4 wvdir   5 shww   6 mpww   10 dirpw   11 perpw
//	  7 swdir  8 shts   9 mpts      (three-band sequences)
//
// Swell is decomposed into ordered partitions: swdir, shts and mpts each
// appear three times per file, distinguished only by an ordered-sequence
// product definition and their position in the file. Bands flatten to
// independent arrays with a zero-based suffix (shts_0, shts_1, shts_2), so
// 13 catalog entries yield 19 records per file and 19 store arrays.
//
// # Grid Conventions
//
// Source files scan north to south; arrays are stored south to north, so
// every decoded grid is flipped before assembly. Points masked by the GRIB2
// bitmap (land, ice) decode to NaN, never zero. The archive trims the globe
// to a region of interest, by default 70S..0, 0..135E.
//
// # Assembly Rules
//
// A date's records assemble into (step, latitude, longitude) arrays. All
// steps of one variable must share axes; duplicate steps must be bitwise
// identical. Variables whose step sequence disagrees with the date's
// majority cannot share the store's step axis and are set aside. Holes in
// the cadence before the highest observed step are gaps; a short horizon is
// not.
package domain
