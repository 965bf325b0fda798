package lcbook

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	gocbconnstr "gopkg.in/couchbaselabs/gocbconnstr.v1"
)

// ParsedConnSpec is the resolved form of a connection string: the seed
// host lists a Handle dials plus whatever options its Config cares about.
// Lets a caller supply one "couchbase://host1,host2/bucket?option=value"
// string instead of hand-building a []string.
type ParsedConnSpec struct {
	MemdHosts []string
	HTTPHosts []string
	Bucket    string
	UseSSL    bool
	TLSConfig *tls.Config
}

// ParseConnString parses connStr with gocbconnstr.v1 (the same library
// gocb.v1 uses) and resolves it into host lists ready for bootstrapCccp/
// bootstrapHTTP. Grounded 1:1 on AgentConfig.FromConnStr, trimmed of the
// http2/view-specific options this core doesn't carry.
func ParseConnString(connStr string) (ParsedConnSpec, error) {
	baseSpec, err := gocbconnstr.Parse(connStr)
	if err != nil {
		return ParsedConnSpec{}, err
	}

	spec, err := gocbconnstr.Resolve(baseSpec)
	if err != nil {
		return ParsedConnSpec{}, err
	}

	out := ParsedConnSpec{Bucket: spec.Bucket, UseSSL: spec.UseSsl}

	for _, h := range spec.MemdHosts {
		out.MemdHosts = append(out.MemdHosts, fmt.Sprintf("%s:%d", h.Host, h.Port))
	}
	for _, h := range spec.HttpHosts {
		out.HTTPHosts = append(out.HTTPHosts, fmt.Sprintf("%s:%d", h.Host, h.Port))
	}

	fetchOption := func(name string) (string, bool) {
		values := spec.Options[name]
		if len(values) == 0 {
			return "", false
		}
		return values[len(values)-1], true
	}

	switch val, _ := fetchOption("bootstrap_on"); val {
	case "http":
		out.MemdHosts = nil
	case "cccp":
		out.HTTPHosts = nil
	}

	if spec.UseSsl {
		tlsConfig := &tls.Config{}
		cacertpaths := spec.Options["certpath"]
		certpath, _ := fetchOption("certpath")
		keypath, _ := fetchOption("keypath")

		if len(cacertpaths) > 0 {
			roots := x509.NewCertPool()
			for _, path := range cacertpaths {
				cacert, err := os.ReadFile(path)
				if err != nil {
					return ParsedConnSpec{}, err
				}
				if !roots.AppendCertsFromPEM(cacert) {
					return ParsedConnSpec{}, fmt.Errorf("lcbook: invalid CA certificate at %s", path)
				}
			}
			tlsConfig.RootCAs = roots
		} else {
			tlsConfig.InsecureSkipVerify = true
		}

		if certpath != "" && keypath != "" {
			cert, err := tls.LoadX509KeyPair(certpath, keypath)
			if err != nil {
				return ParsedConnSpec{}, err
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		out.TLSConfig = tlsConfig
	}

	return out, nil
}
