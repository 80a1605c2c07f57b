package vault

import "errors"

// ErrNoCredential is returned when the stored token cannot be decrypted.
var ErrNoCredential = errors.New("API token unavailable")

// BasicCredentials yields the ingestion account name and token. The token
// is decrypted for each call and wiped when fn returns.
type BasicCredentials struct {
	Name  string
	Blob  string
	Vault *Vault
}

// Basic calls fn with the decrypted token. The token string is only valid
// inside fn.
func (c *BasicCredentials) Basic(fn func(name, token string) error) error {
	buf := c.Vault.open(c.Blob)
	if buf == nil {
		return ErrNoCredential
	}
	defer buf.Destroy()
	return fn(c.Name, buf.String())
}
