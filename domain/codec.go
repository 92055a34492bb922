package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// DiscriminatorSize is the length of the type tag that prefixes every stored record.
const DiscriminatorSize = 8

var (
	UserProfileDiscriminator = accountDiscriminator("UserProfile")
	TaskItemDiscriminator    = accountDiscriminator("TaskItem")
)

func accountDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("account:" + name))
	return sum[:DiscriminatorSize]
}

// UserProfileSize is the fixed encoded size of a profile record.
const UserProfileSize = DiscriminatorSize + PubkeySize + 8 + 8

// EncodeUserProfile lays out discriminator, authority, task count, last task id.
func EncodeUserProfile(p *UserProfile) []byte {
	w := NewWriter(UserProfileSize)
	w.Raw(UserProfileDiscriminator)
	w.Pubkey(p.Authority)
	w.U64(p.TaskCount)
	w.U64(p.LastTaskID)
	return w.Bytes()
}

// DecodeUserProfile is the inverse of EncodeUserProfile.
func DecodeUserProfile(addr Pubkey, data []byte) (*UserProfile, error) {
	r, err := newRecordReader(data, UserProfileDiscriminator, "UserProfile")
	if err != nil {
		return nil, err
	}
	p := &UserProfile{Address: addr}
	p.Authority = r.Pubkey()
	p.TaskCount = r.U64()
	p.LastTaskID = r.U64()
	if err := r.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodeTaskItem lays out discriminator, id, description, completed, due date, owner, authority.
func EncodeTaskItem(t *TaskItem) []byte {
	w := NewWriter(DiscriminatorSize + 8 + 4 + len(t.Description) + 1 + 8 + 2*PubkeySize)
	w.Raw(TaskItemDiscriminator)
	w.U64(t.ID)
	w.Text(t.Description)
	w.Bool(t.Completed)
	w.I64(t.DueDate)
	w.Pubkey(t.Owner)
	w.Pubkey(t.Authority)
	return w.Bytes()
}

// DecodeTaskItem is the inverse of EncodeTaskItem.
func DecodeTaskItem(addr Pubkey, data []byte) (*TaskItem, error) {
	r, err := newRecordReader(data, TaskItemDiscriminator, "TaskItem")
	if err != nil {
		return nil, err
	}
	t := &TaskItem{Address: addr}
	t.ID = r.U64()
	t.Description = r.Text()
	t.Completed = r.Bool()
	t.DueDate = r.I64()
	t.Owner = r.Pubkey()
	t.Authority = r.Pubkey()
	if err := r.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// HasDiscriminator reports whether data starts with the given type tag.
func HasDiscriminator(data, disc []byte) bool {
	return len(data) >= DiscriminatorSize && bytes.Equal(data[:DiscriminatorSize], disc)
}

func newRecordReader(data, disc []byte, name string) (*Reader, error) {
	if !HasDiscriminator(data, disc) {
		return nil, WrapError(ErrCodeInvalid, fmt.Sprintf("account is not a %s", name), nil)
	}
	return NewReader(data[DiscriminatorSize:]), nil
}

// Writer appends little-endian, length-prefixed values. It is shared by the
// record layout and the instruction schema.
type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) U32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *Writer) U64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *Writer) I64(v int64) { w.U64(uint64(v)) }

func (w *Writer) Pubkey(p Pubkey) { w.buf = append(w.buf, p[:]...) }

func (w *Writer) Bytes() []byte { return w.buf }

// Text writes a u32 length prefix followed by the UTF-8 bytes.
func (w *Writer) Text(s string) {
	w.U32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *Writer) Bool(v bool) {
	if v {
		w.U8(1)
		return
	}
	w.U8(0)
}

// Reader consumes what Writer produced. The first short read sticks as Err and
// every later read returns zero values.
type Reader struct {
	data []byte
	off  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = WrapError(ErrCodeInvalid, fmt.Sprintf("truncated data at offset %d", r.off), nil)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) U32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) U64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) I64() int64 { return int64(r.U64()) }

func (r *Reader) Bool() bool {
	switch r.U8() {
	case 0:
		return false
	case 1:
		return true
	default:
		if r.err == nil {
			r.err = WrapError(ErrCodeInvalid, "invalid bool encoding", nil)
		}
		return false
	}
}

func (r *Reader) Pubkey() Pubkey {
	var p Pubkey
	copy(p[:], r.take(PubkeySize))
	return p
}

func (r *Reader) Raw(n int) []byte {
	return r.take(n)
}

func (r *Reader) Text() string {
	n := r.U32()
	if n > math.MaxInt32 {
		r.err = WrapError(ErrCodeInvalid, "string length overflow", nil)
		return ""
	}
	return string(r.take(int(n)))
}

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

func (r *Reader) Err() error { return r.err }
