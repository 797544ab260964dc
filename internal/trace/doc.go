// Package trace parses line-oriented storage I/O traces.
//
// A data line carries whitespace separated integers:
//
//	time(ns) device offset(LBA) size(sectors) rw(0=write,1=read) [ignored...]
//
// Lines starting with '#' are comments. With reset markers enabled, a line
// starting with "#0x" discards everything read so far, so only the lines
// after the last marker are parsed. Malformed data lines are dropped and
// reported; they never fail a parse.
//
// The package also provides the input side of the pipeline: files, stdin
// and blobs, with transparent gzip, zstd and lz4 decompression and UTF-8
// validation.
package trace
