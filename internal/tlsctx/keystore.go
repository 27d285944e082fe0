package tlsctx

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	stderrors "errors"
	"fmt"
	"os"

	"httpkit/pkg/errors"
	tlsx "httpkit/pkg/tls"

	"software.sslmate.com/src/go-pkcs12"
)

// material is the trust and client key material read from a keystore.
type material struct {
	roots        *x509.CertPool
	certificates []tls.Certificate
}

// loadKeystore reads a PEM bundle or a PKCS#12 file.
func loadKeystore(ks tlsx.Keystore) (*material, error) {
	data, err := os.ReadFile(ks.Path)
	if err != nil {
		return nil, errors.TLSConfiguration("keystore not readable", err).WithDetail("path", ks.Path)
	}

	var m *material
	if bytes.Contains(data, []byte("-----BEGIN")) {
		m, err = loadPEM(data)
	} else {
		m, err = loadPKCS12(data, ks.Password)
	}
	if err != nil {
		var typed *errors.Error
		if stderrors.As(err, &typed) {
			return nil, typed.WithDetail("path", ks.Path)
		}
		return nil, errors.TLSConfiguration("keystore could not be decoded", err).WithDetail("path", ks.Path)
	}
	return m, nil
}

// loadPEM accepts certificates plus an optional private key. The first
// certificate paired with the key is presented as the client certificate.
func loadPEM(data []byte) (*material, error) {
	m := &material{roots: x509.NewCertPool()}

	var certs []*x509.Certificate
	var keyPEM []byte
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse certificate: %w", err)
			}
			certs = append(certs, cert)
			m.roots.AddCert(cert)
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			keyPEM = pem.EncodeToMemory(block)
		}
	}
	if len(certs) == 0 {
		return nil, errors.TLSConfiguration("keystore contains no certificates", nil)
	}

	if keyPEM != nil {
		certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certs[0].Raw})
		pair, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("load client key pair: %w", err)
		}
		m.certificates = []tls.Certificate{pair}
	}
	return m, nil
}

// loadPKCS12 decodes a trust store, falling back to a key+chain store. The
// sentinel password is retried as the empty password for unprotected files.
func loadPKCS12(data []byte, password string) (*material, error) {
	m, err := decodePKCS12(data, password)
	if err != nil && password == tlsx.NoPassword {
		if unprotected, retryErr := decodePKCS12(data, ""); retryErr == nil {
			return unprotected, nil
		}
	}
	if stderrors.Is(err, pkcs12.ErrIncorrectPassword) {
		return nil, errors.TLSConfiguration("keystore password incorrect", err)
	}
	return m, err
}

func decodePKCS12(data []byte, password string) (*material, error) {
	m := &material{roots: x509.NewCertPool()}

	certs, err := pkcs12.DecodeTrustStore(data, password)
	if err == nil {
		if len(certs) == 0 {
			return nil, errors.TLSConfiguration("keystore contains no certificates", nil)
		}
		for _, c := range certs {
			m.roots.AddCert(c)
		}
		return m, nil
	}
	if stderrors.Is(err, pkcs12.ErrIncorrectPassword) {
		return nil, err
	}

	key, leaf, chain, chainErr := pkcs12.DecodeChain(data, password)
	if chainErr != nil {
		if stderrors.Is(chainErr, pkcs12.ErrIncorrectPassword) {
			return nil, chainErr
		}
		// Report the trust store error; it is the primary format.
		return nil, err
	}

	m.roots.AddCert(leaf)
	raw := [][]byte{leaf.Raw}
	for _, c := range chain {
		m.roots.AddCert(c)
		raw = append(raw, c.Raw)
	}
	m.certificates = []tls.Certificate{{Certificate: raw, PrivateKey: key, Leaf: leaf}}
	return m, nil
}
