package tl

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Constructor ids of the unencrypted key-exchange messages.
const (
	CRCReqPQ              uint32 = 0x60469778
	CRCReqPQMulti         uint32 = 0xbe7e8ef1
	CRCResPQ              uint32 = 0x05162463
	CRCReqDHParams        uint32 = 0xd712e4be
	CRCServerDHParamsFail uint32 = 0x79cb045d
	CRCServerDHParamsOK   uint32 = 0xd0e8075c
)

// RegisterHandshake adds every constructor in this file to r.
func RegisterHandshake(r *Registry) {
	r.Register(CRCReqPQ, "req_pq", func(d *Decoder) (Message, error) {
		nonce, err := d.Int128()
		return &ReqPQ{Nonce: nonce}, err
	})
	r.Register(CRCReqPQMulti, "req_pq_multi", func(d *Decoder) (Message, error) {
		nonce, err := d.Int128()
		return &ReqPQMulti{Nonce: nonce}, err
	})
	r.Register(CRCResPQ, "resPQ", decodeResPQ)
	r.Register(CRCReqDHParams, "req_DH_params", decodeReqDHParams)
	r.Register(CRCServerDHParamsFail, "server_DH_params_fail", decodeServerDHParamsFail)
	r.Register(CRCServerDHParamsOK, "server_DH_params_ok", decodeServerDHParamsOK)
}

// ReqPQ is the legacy first key-exchange request.
type ReqPQ struct {
	Nonce Int128
}

func (m *ReqPQ) Constructor() uint32 { return CRCReqPQ }
func (m *ReqPQ) TypeName() string    { return "req_pq" }

func (m *ReqPQ) ToBinary() []byte {
	e := NewEncoder(20)
	e.PutUint32(CRCReqPQ)
	e.PutInt128(m.Nonce)
	return e.Bytes()
}

func (m *ReqPQ) DebugString() string {
	return debugString(m, field{"nonce", m.Nonce})
}

// ReqPQMulti opens the key exchange and asks for every server key fingerprint.
type ReqPQMulti struct {
	Nonce Int128
}

func (m *ReqPQMulti) Constructor() uint32 { return CRCReqPQMulti }
func (m *ReqPQMulti) TypeName() string    { return "req_pq_multi" }

func (m *ReqPQMulti) ToBinary() []byte {
	e := NewEncoder(20)
	e.PutUint32(CRCReqPQMulti)
	e.PutInt128(m.Nonce)
	return e.Bytes()
}

func (m *ReqPQMulti) DebugString() string {
	return debugString(m, field{"nonce", m.Nonce})
}

type ResPQ struct {
	Nonce        Int128
	ServerNonce  Int128
	PQ           []byte
	Fingerprints []int64
}

func (m *ResPQ) Constructor() uint32 { return CRCResPQ }
func (m *ResPQ) TypeName() string    { return "resPQ" }

func (m *ResPQ) ToBinary() []byte {
	e := NewEncoder(64 + 8*len(m.Fingerprints))
	e.PutUint32(CRCResPQ)
	e.PutInt128(m.Nonce)
	e.PutInt128(m.ServerNonce)
	e.PutBytes(m.PQ)
	e.PutVectorInt64(m.Fingerprints)
	return e.Bytes()
}

func (m *ResPQ) DebugString() string {
	return debugString(m,
		field{"nonce", m.Nonce},
		field{"server_nonce", m.ServerNonce},
		field{"pq", hexBytes(m.PQ)},
		field{"server_public_key_fingerprints", m.Fingerprints},
	)
}

func decodeResPQ(d *Decoder) (Message, error) {
	var (
		m   ResPQ
		err error
	)
	if m.Nonce, err = d.Int128(); err != nil {
		return nil, err
	}
	if m.ServerNonce, err = d.Int128(); err != nil {
		return nil, err
	}
	if m.PQ, err = d.Bytes(); err != nil {
		return nil, err
	}
	if m.Fingerprints, err = d.VectorInt64(); err != nil {
		return nil, err
	}
	return &m, nil
}

type ReqDHParams struct {
	Nonce                Int128
	ServerNonce          Int128
	P                    []byte
	Q                    []byte
	PublicKeyFingerprint int64
	EncryptedData        []byte
}

func (m *ReqDHParams) Constructor() uint32 { return CRCReqDHParams }
func (m *ReqDHParams) TypeName() string    { return "req_DH_params" }

func (m *ReqDHParams) ToBinary() []byte {
	e := NewEncoder(64 + len(m.P) + len(m.Q) + len(m.EncryptedData))
	e.PutUint32(CRCReqDHParams)
	e.PutInt128(m.Nonce)
	e.PutInt128(m.ServerNonce)
	e.PutBytes(m.P)
	e.PutBytes(m.Q)
	e.PutInt64(m.PublicKeyFingerprint)
	e.PutBytes(m.EncryptedData)
	return e.Bytes()
}

func (m *ReqDHParams) DebugString() string {
	return debugString(m,
		field{"nonce", m.Nonce},
		field{"server_nonce", m.ServerNonce},
		field{"p", hexBytes(m.P)},
		field{"q", hexBytes(m.Q)},
		field{"public_key_fingerprint", m.PublicKeyFingerprint},
		field{"encrypted_data", fmt.Sprintf("<%d bytes>", len(m.EncryptedData))},
	)
}

func decodeReqDHParams(d *Decoder) (Message, error) {
	var (
		m   ReqDHParams
		err error
	)
	if m.Nonce, err = d.Int128(); err != nil {
		return nil, err
	}
	if m.ServerNonce, err = d.Int128(); err != nil {
		return nil, err
	}
	if m.P, err = d.Bytes(); err != nil {
		return nil, err
	}
	if m.Q, err = d.Bytes(); err != nil {
		return nil, err
	}
	if m.PublicKeyFingerprint, err = d.Int64(); err != nil {
		return nil, err
	}
	if m.EncryptedData, err = d.Bytes(); err != nil {
		return nil, err
	}
	return &m, nil
}

type ServerDHParamsFail struct {
	Nonce        Int128
	ServerNonce  Int128
	NewNonceHash Int128
}

func (m *ServerDHParamsFail) Constructor() uint32 { return CRCServerDHParamsFail }
func (m *ServerDHParamsFail) TypeName() string    { return "server_DH_params_fail" }

func (m *ServerDHParamsFail) DebugString() string {
	return debugString(m,
		field{"nonce", m.Nonce},
		field{"server_nonce", m.ServerNonce},
		field{"new_nonce_hash", m.NewNonceHash},
	)
}

func decodeServerDHParamsFail(d *Decoder) (Message, error) {
	var (
		m   ServerDHParamsFail
		err error
	)
	if m.Nonce, err = d.Int128(); err != nil {
		return nil, err
	}
	if m.ServerNonce, err = d.Int128(); err != nil {
		return nil, err
	}
	if m.NewNonceHash, err = d.Int128(); err != nil {
		return nil, err
	}
	return &m, nil
}

type ServerDHParamsOK struct {
	Nonce           Int128
	ServerNonce     Int128
	EncryptedAnswer []byte
}

func (m *ServerDHParamsOK) Constructor() uint32 { return CRCServerDHParamsOK }
func (m *ServerDHParamsOK) TypeName() string    { return "server_DH_params_ok" }

func (m *ServerDHParamsOK) DebugString() string {
	return debugString(m,
		field{"nonce", m.Nonce},
		field{"server_nonce", m.ServerNonce},
		field{"encrypted_answer", fmt.Sprintf("<%d bytes>", len(m.EncryptedAnswer))},
	)
}

func decodeServerDHParamsOK(d *Decoder) (Message, error) {
	var (
		m   ServerDHParamsOK
		err error
	)
	if m.Nonce, err = d.Int128(); err != nil {
		return nil, err
	}
	if m.ServerNonce, err = d.Int128(); err != nil {
		return nil, err
	}
	if m.EncryptedAnswer, err = d.Bytes(); err != nil {
		return nil, err
	}
	return &m, nil
}

type field struct {
	name  string
	value any
}

type hexBytes []byte

func (h hexBytes) String() string { return "0x" + hex.EncodeToString(h) }

func debugString(m Message, fields ...field) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s#%08x{", m.TypeName(), m.Constructor())
	for i, f := range fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", f.name, f.value)
	}
	b.WriteByte('}')
	return b.String()
}
