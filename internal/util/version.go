package util

// Version is the release version, overridden at build time with
// -ldflags "-X github.com/IT-Hock/source-rcon-library/internal/util.Version=...".
var Version = "1.0.0"
