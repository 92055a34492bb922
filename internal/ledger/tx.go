package ledger

import (
	"crypto/ed25519"
	"fmt"

	"github.com/fastygo/taskledger/domain"
)

const (
	messageVersion         = 1
	maxInstructions        = 8
	maxAccountsPerIx       = 16
	maxInstructionDataSize = 1232
)

const (
	flagSigner   uint8 = 1 << 0
	flagWritable uint8 = 1 << 1
)

// AccountMeta names an account an instruction touches.
type AccountMeta struct {
	Pubkey   domain.Pubkey
	Signer   bool
	Writable bool
}

// Instruction is one program invocation.
type Instruction struct {
	ProgramID domain.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// Message is the signed part of a transaction.
type Message struct {
	Anchor       domain.Hash
	FeePayer     domain.Pubkey
	Instructions []Instruction
}

// Signers lists required signers, fee payer first, each once.
func (m *Message) Signers() []domain.Pubkey {
	out := []domain.Pubkey{m.FeePayer}
	seen := map[domain.Pubkey]struct{}{m.FeePayer: {}}
	for _, ix := range m.Instructions {
		for _, meta := range ix.Accounts {
			if !meta.Signer {
				continue
			}
			if _, ok := seen[meta.Pubkey]; ok {
				continue
			}
			seen[meta.Pubkey] = struct{}{}
			out = append(out, meta.Pubkey)
		}
	}
	return out
}

// Marshal encodes the message. The result is what signers sign.
func (m *Message) Marshal() ([]byte, error) {
	if len(m.Instructions) == 0 || len(m.Instructions) > maxInstructions {
		return nil, fmt.Errorf("message must carry 1..%d instructions, got %d", maxInstructions, len(m.Instructions))
	}
	w := domain.NewWriter(128)
	w.U8(messageVersion)
	w.Raw(m.Anchor[:])
	w.Pubkey(m.FeePayer)
	w.U8(uint8(len(m.Instructions)))
	for i, ix := range m.Instructions {
		if len(ix.Accounts) > maxAccountsPerIx {
			return nil, fmt.Errorf("instruction %d: too many accounts (%d)", i, len(ix.Accounts))
		}
		if len(ix.Data) > maxInstructionDataSize {
			return nil, fmt.Errorf("instruction %d: data too large (%d bytes)", i, len(ix.Data))
		}
		w.Pubkey(ix.ProgramID)
		w.U8(uint8(len(ix.Accounts)))
		for _, meta := range ix.Accounts {
			w.Pubkey(meta.Pubkey)
			var flags uint8
			if meta.Signer {
				flags |= flagSigner
			}
			if meta.Writable {
				flags |= flagWritable
			}
			w.U8(flags)
		}
		w.U32(uint32(len(ix.Data)))
		w.Raw(ix.Data)
	}
	return w.Bytes(), nil
}

// UnmarshalMessage decodes a message produced by Marshal.
func UnmarshalMessage(raw []byte) (*Message, error) {
	r := domain.NewReader(raw)
	if v := r.U8(); v != messageVersion {
		return nil, fmt.Errorf("%w: unsupported message version %d", ErrMalformedTransaction, v)
	}
	m := &Message{}
	copy(m.Anchor[:], r.Raw(domain.HashSize))
	m.FeePayer = r.Pubkey()
	n := int(r.U8())
	if n == 0 || n > maxInstructions {
		return nil, fmt.Errorf("%w: instruction count %d", ErrMalformedTransaction, n)
	}
	for i := 0; i < n; i++ {
		ix := Instruction{ProgramID: r.Pubkey()}
		accounts := int(r.U8())
		if accounts > maxAccountsPerIx {
			return nil, fmt.Errorf("%w: too many accounts", ErrMalformedTransaction)
		}
		for j := 0; j < accounts; j++ {
			key := r.Pubkey()
			flags := r.U8()
			ix.Accounts = append(ix.Accounts, AccountMeta{
				Pubkey:   key,
				Signer:   flags&flagSigner != 0,
				Writable: flags&flagWritable != 0,
			})
		}
		size := int(r.U32())
		if size > maxInstructionDataSize {
			return nil, fmt.Errorf("%w: instruction data too large", ErrMalformedTransaction)
		}
		ix.Data = append([]byte(nil), r.Raw(size)...)
		m.Instructions = append(m.Instructions, ix)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTransaction, r.Remaining())
	}
	return m, nil
}

// Transaction is a message plus one signature per required signer.
type Transaction struct {
	Signatures []domain.Signature
	Message    *Message
	raw        []byte
}

// NewTransaction wraps a message with empty signature slots.
func NewTransaction(msg *Message) (*Transaction, error) {
	raw, err := msg.Marshal()
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Signatures: make([]domain.Signature, len(msg.Signers())),
		Message:    msg,
		raw:        raw,
	}, nil
}

// AssembleTransaction pairs already-encoded message bytes with their signatures.
func AssembleTransaction(rawMessage []byte, sigs ...domain.Signature) (*Transaction, error) {
	msg, err := UnmarshalMessage(rawMessage)
	if err != nil {
		return nil, err
	}
	if len(sigs) != len(msg.Signers()) {
		return nil, fmt.Errorf("%w: expected %d signatures, got %d", ErrSignatureFailure, len(msg.Signers()), len(sigs))
	}
	return &Transaction{Signatures: sigs, Message: msg, raw: append([]byte(nil), rawMessage...)}, nil
}

// MessageBytes returns the exact bytes that were (or must be) signed.
func (tx *Transaction) MessageBytes() []byte { return tx.raw }

// Sign fills the slot belonging to key's public half.
func (tx *Transaction) Sign(key ed25519.PrivateKey) error {
	pub, err := domain.PubkeyFromBytes(key.Public().(ed25519.PublicKey))
	if err != nil {
		return err
	}
	for i, signer := range tx.Message.Signers() {
		if signer == pub {
			copy(tx.Signatures[i][:], ed25519.Sign(key, tx.raw))
			return nil
		}
	}
	return fmt.Errorf("key %s is not a required signer", pub)
}

// Verify checks every required signature.
func (tx *Transaction) Verify() error {
	signers := tx.Message.Signers()
	if len(tx.Signatures) != len(signers) {
		return ErrSignatureFailure
	}
	for i, signer := range signers {
		if !VerifySignature(signer, tx.raw, tx.Signatures[i]) {
			return ErrSignatureFailure
		}
	}
	return nil
}

// ID is the fee payer's signature, which names the transaction on the ledger.
func (tx *Transaction) ID() domain.Signature {
	if len(tx.Signatures) == 0 {
		return domain.Signature{}
	}
	return tx.Signatures[0]
}

// Marshal encodes signatures followed by the message.
func (tx *Transaction) Marshal() []byte {
	w := domain.NewWriter(1 + len(tx.Signatures)*domain.SignatureSize + len(tx.raw))
	w.U8(uint8(len(tx.Signatures)))
	for _, sig := range tx.Signatures {
		w.Raw(sig[:])
	}
	w.Raw(tx.raw)
	return w.Bytes()
}

// UnmarshalTransaction decodes the output of Transaction.Marshal.
func UnmarshalTransaction(raw []byte) (*Transaction, error) {
	if len(raw) < 1 {
		return nil, ErrMalformedTransaction
	}
	n := int(raw[0])
	offset := 1 + n*domain.SignatureSize
	if n == 0 || len(raw) < offset {
		return nil, ErrMalformedTransaction
	}
	sigs := make([]domain.Signature, n)
	for i := range sigs {
		copy(sigs[i][:], raw[1+i*domain.SignatureSize:])
	}
	return AssembleTransaction(raw[offset:], sigs...)
}

// VerifySignature checks an ed25519 signature by a ledger identity.
func VerifySignature(signer domain.Pubkey, message []byte, sig domain.Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(signer[:]), message, sig[:])
}
