package tls

// NoPassword is the password used for keystores that are not protected.
const NoPassword = "nopassword"

// Keystore identifies custom trust (and optional client key) material on disk.
// Path may point to a PKCS#12 file or a PEM bundle.
type Keystore struct {
	Path     string `yaml:"path"`
	Password string `yaml:"password"`
}

// Protected reports whether a real password was supplied.
func (k Keystore) Protected() bool {
	return k.Password != "" && k.Password != NoPassword
}
