package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/seccorpus/certmap/internal/serde"
)

// IUTEntry is one row of the FIPS "implementation under test" snapshot
// list. The entries are structurally parallel to certificates and flow
// through the same snapshot differ.
type IUTEntry struct {
	ModuleName string
	VendorName string
	Standard   string
	IUTDate    serde.Date
}

func (e IUTEntry) DGST() string {
	return inProcessDigest(e.ModuleName, e.VendorName, e.Standard)
}

func (e IUTEntry) ToCanonical() serde.Map {
	return serde.Map{
		"_type":       "IUTEntry",
		"module_name": e.ModuleName,
		"vendor_name": e.VendorName,
		"standard":    e.Standard,
		"iut_date":    e.IUTDate,
	}
}

// MIPEntry is one row of the FIPS "module in process" snapshot list.
type MIPEntry struct {
	ModuleName  string
	VendorName  string
	Standard    string
	Status      string
	StatusSince serde.Date
}

func (e MIPEntry) DGST() string {
	return inProcessDigest(e.ModuleName, e.VendorName, e.Standard)
}

func (e MIPEntry) ToCanonical() serde.Map {
	return serde.Map{
		"_type":        "MIPEntry",
		"module_name":  e.ModuleName,
		"vendor_name":  e.VendorName,
		"standard":     e.Standard,
		"status":       e.Status,
		"status_since": e.StatusSince,
	}
}

func inProcessDigest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}

func init() {
	serde.RegisterType("IUTEntry", func(m serde.Map) (any, error) {
		e := IUTEntry{
			ModuleName: asString(m["module_name"]),
			VendorName: asString(m["vendor_name"]),
			Standard:   asString(m["standard"]),
		}
		if d, ok := m["iut_date"].(serde.Date); ok {
			e.IUTDate = d
		}
		return e, nil
	})
	serde.RegisterType("MIPEntry", func(m serde.Map) (any, error) {
		e := MIPEntry{
			ModuleName: asString(m["module_name"]),
			VendorName: asString(m["vendor_name"]),
			Standard:   asString(m["standard"]),
			Status:     asString(m["status"]),
		}
		if d, ok := m["status_since"].(serde.Date); ok {
			e.StatusSince = d
		}
		return e, nil
	})
}
