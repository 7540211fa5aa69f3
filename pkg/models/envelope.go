package models

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

const (
	ContentBindingAlgoKeccak256 = "keccak256"
	SignatureCurveSecp256k1     = "sepc256k1"
	AttestationDescription      = "Signer attesting to the contents of this metadata file."
)

// MetadataEnvelope is the signed manifest stored next to a payload.
// Field order of EnvelopeData is part of the signed wire format.
type MetadataEnvelope struct {
	Data      EnvelopeData      `json:"data"`
	Signature EnvelopeSignature `json:"signature"`
	// SignedData is the data member as received, compacted but otherwise
	// untouched, including keys EnvelopeData does not model. Empty for
	// envelopes built in process.
	SignedData json.RawMessage `json:"-"`
}

type EnvelopeData struct {
	Description    string          `json:"description"`
	Encrypted      bool            `json:"encrypted"`
	Access         json.RawMessage `json:"access"`
	Content        []ContentEntry  `json:"content"`
	Manifest       json.RawMessage `json:"manifest"`
	ContentBinding ContentBinding  `json:"contentBinding"`
}

type ContentEntry struct {
	Location string `json:"location"`
	Type     string `json:"type"`
}

type ContentBinding struct {
	Algo string `json:"algo"`
	Hash string `json:"hash"`
}

type EnvelopeSignature struct {
	Curve       string `json:"curve"`
	Signature   string `json:"signature"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

// CheckResult is the outcome of one verification step. Skipped checks were
// not evaluated because an earlier check failed.
type CheckResult struct {
	Passed  bool   `json:"passed"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

const (
	CheckContentBinding   = "content_binding"
	CheckMessageIntegrity = "message_integrity"
	CheckDelegationChain  = "delegation_chain"
)

// VerificationResult keeps both the address that signed the envelope and the
// root it resolves to: the intermediate signs, the root is accountable.
type VerificationResult struct {
	AssetID          common.Hash    `json:"asset_id"`
	URI              string         `json:"uri"`
	ContentBinding   CheckResult    `json:"content_binding"`
	MessageIntegrity CheckResult    `json:"message_integrity"`
	DelegationChain  CheckResult    `json:"delegation_chain"`
	Signer           common.Address `json:"signer"`
	Root             common.Address `json:"root"`
}

func (r VerificationResult) Verified() bool {
	return r.ContentBinding.Passed && r.MessageIntegrity.Passed && r.DelegationChain.Passed
}

// Failed names the checks that ran and did not pass.
func (r VerificationResult) Failed() []string {
	var out []string
	if !r.ContentBinding.Passed && !r.ContentBinding.Skipped {
		out = append(out, CheckContentBinding)
	}
	if !r.MessageIntegrity.Passed && !r.MessageIntegrity.Skipped {
		out = append(out, CheckMessageIntegrity)
	}
	if !r.DelegationChain.Passed && !r.DelegationChain.Skipped {
		out = append(out, CheckDelegationChain)
	}
	return out
}
