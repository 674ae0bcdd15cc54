package reqoptions

import "crypto/x509"

func buildCAPool(ca []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(ca)
	return pool, nil
}
