package types

// Version is the version of flock, overwritten at build time via -ldflags
var Version = "dev"
