package domain

// Capability descriptor payloads for the possession-credential ceremony.
// Shapes follow the W3C credential creation/request options the browser
// API consumes.

type RelyingParty struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type UserDescriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type PubKeyCredParam struct {
	Type string `json:"type"`
	Alg  int    `json:"alg"`
}

type AuthenticatorSelection struct {
	AuthenticatorAttachment string `json:"authenticatorAttachment,omitempty"`
	RequireResidentKey      bool   `json:"requireResidentKey"`
	UserVerification        string `json:"userVerification"`
}

type RegistrationOptions struct {
	Challenge              string                 `json:"challenge"`
	RP                     RelyingParty           `json:"rp"`
	User                   UserDescriptor         `json:"user"`
	PubKeyCredParams       []PubKeyCredParam      `json:"pubKeyCredParams"`
	AuthenticatorSelection AuthenticatorSelection `json:"authenticatorSelection"`
	Timeout                int                    `json:"timeout"`
	Attestation            string                 `json:"attestation"`
}

type AllowedCredential struct {
	Type       string   `json:"type"`
	ID         string   `json:"id"`
	Transports []string `json:"transports,omitempty"`
}

type LoginOptions struct {
	Challenge        string              `json:"challenge"`
	AllowCredentials []AllowedCredential `json:"allowCredentials"`
	UserVerification string              `json:"userVerification"`
	Timeout          int                 `json:"timeout"`
}

// AssertionResponse carries the authenticator output, base64url-encoded.
type AssertionResponse struct {
	ClientDataJSON    string `json:"clientDataJSON"`
	AttestationObject string `json:"attestationObject,omitempty"`
	AuthenticatorData string `json:"authenticatorData,omitempty"`
	Signature         string `json:"signature,omitempty"`
}

// CredentialAssertion is the credential the client presents during
// enrollment or login verification.
type CredentialAssertion struct {
	ID         string            `json:"id"`
	RawID      string            `json:"rawId"`
	Type       string            `json:"type"`
	Response   AssertionResponse `json:"response"`
	Transports []string          `json:"transports,omitempty"`
}
