package version

// Version is the build version, overridden at release time with
// -ldflags "-X cinebox/internal/version.Version=...".
var Version = "0.4.0"
