package id

import "fmt"

// SequenceId binds frames belonging to the same logical message. All
// frames of one message share Hash; Num ranges over [0, Max]. Max == 0
// denotes a single-frame message.
type SequenceId struct {
	Hash Ident32
	Num  uint32
	Max  uint32
}

func (s SequenceId) Single() bool { return s.Max == 0 }

// Key is the journal's "frames" partition key shape: "<seq_hash>::<num>".
func (s SequenceId) Key() string {
	return fmt.Sprintf("%s::%d", s.Hash, s.Num)
}

// PendingPrefix is the prefix-scan key for every frame of this sequence.
func (s SequenceId) PendingPrefix() string {
	return fmt.Sprintf("%s::", s.Hash)
}

// ClientAuth is issued by the IPC server on first connection and is
// required on every subsequent microframe that mutates state.
type ClientAuth struct {
	ClientID Ident32
	Token    Ident32
}

func (c ClientAuth) IsZero() bool { return c.ClientID.IsZero() && c.Token.IsZero() }
