package version

// Version is set at build time with
// -ldflags "-X github.com/jmorganca/ngram/version.Version=..."
var Version string = "0.0.0"
