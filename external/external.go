// Package external defines the narrow collaborator interfaces the core
// depends on but does not implement itself (§6): a firmware image source
// and a configuration alias resolver. Concrete adapters (an Intel-HEX
// reader, a YAML-backed alias file) live alongside these interfaces but are
// never imported by ilcbus/transport/firmware — only referenced through
// these interfaces.
package external

// HexProvider supplies a firmware image to the Firmware Programmer.
// GetData returns the concatenated program bytes and writes the lowest
// start address it found into startAddress.
type HexProvider interface {
	GetData(startAddress *uint16) ([]byte, error)
}

// ConfigAliasLoader resolves a short configuration label (as referenced
// from a device table or command line) into the concrete set/version or
// filesystem path it names. The core consumes only these two methods.
type ConfigAliasLoader interface {
	GetAlias(label string) (setName, version string, err error)
	GetPath(label string) (string, error)
}
