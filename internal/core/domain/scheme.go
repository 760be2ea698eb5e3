package domain

// Scheme identifies the national or regional certification authority
// that issued a certificate. The short country code doubles as the key
// into the per-scheme cert-id rule table.
type Scheme string

const (
	SchemeDE Scheme = "DE" // BSI
	SchemeFR Scheme = "FR" // ANSSI
	SchemeUS Scheme = "US" // NIAP
	SchemeSE Scheme = "SE" // CSEC
	SchemeNL Scheme = "NL" // NSCIB
	SchemeES Scheme = "ES" // CCN
	SchemeJP Scheme = "JP" // JISEC
	SchemeCA Scheme = "CA" // CCCS
	SchemeAU Scheme = "AU" // ACSC
	SchemeKR Scheme = "KR" // ITSCC
	SchemeIT Scheme = "IT" // OCSI
	SchemeIN Scheme = "IN" // IC3S
	SchemeMY Scheme = "MY" // CyberSecurity Malaysia
	SchemeNO Scheme = "NO" // SERTIT
	SchemeTR Scheme = "TR" // TSE
	SchemeSG Scheme = "SG" // CSA
	SchemeUK Scheme = "UK" // NCSC (historical)
	SchemePL Scheme = "PL" // NASK
	SchemeQA Scheme = "QA"
)

// Status is the lifecycle state a scheme reports for a certificate.
type Status string

const (
	StatusActive     Status = "active"
	StatusArchived   Status = "archived"
	StatusRevoked    Status = "revoked"
	StatusHistorical Status = "historical"
)
