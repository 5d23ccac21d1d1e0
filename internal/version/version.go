// ABOUTME: Version constants for pcmdeck
// ABOUTME: Reported by the version command and the TUI
package version

const (
	// Version is the release version
	Version = "0.3.0"

	// Product is the product name
	Product = "pcmdeck"

	// Manufacturer is the maintainer shown alongside the product name
	Manufacturer = "Resonate"
)

// String returns "pcmdeck 0.3.0"
func String() string {
	return Product + " " + Version
}
