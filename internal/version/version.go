// ABOUTME: Product identity reported by the daemon and its clients
// ABOUTME: Version is overridden at link time for release builds
package version

// Version is set with -ldflags "-X .../internal/version.Version=v1.2.3".
var Version = "0.1.0"

const (
	Product      = "resonated"
	Manufacturer = "Resonate"
)

// String returns "product version".
func String() string {
	return Product + " " + Version
}
