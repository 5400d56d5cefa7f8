// Package packs builds and reads audio pack manifests and warms the cache
// with the loops they list.
//
// A pack is a directory below packs/ holding loops named
// <stem>_loop_<n>.ogg. Its manifest.json maps each stem to its loops in
// natural order:
//
//	{
//	  "drums": ["drums_loop_01.ogg", "drums_loop_02.ogg"],
//	  "bass": ["bass_loop_01.ogg"]
//	}
package packs
