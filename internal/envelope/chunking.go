package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ChunkEnvelope is one slice of an encoded Request or Response that was too
// large to publish as a single pub/sub message. Chunks belonging to the
// same split carry the same GroupID and are reassembled in Index order.
type ChunkEnvelope struct {
	GroupID    string `json:"groupId"`
	Index      int    `json:"index"`
	Total      int    `json:"total"`
	OriginalID string `json:"originalId"`
	Data       []byte `json:"data"`
}

// NeedsChunking reports whether an encoded envelope exceeds maxBytes.
// maxBytes <= 0 disables chunking entirely.
func NeedsChunking(encoded []byte, maxBytes int) bool {
	return maxBytes > 0 && len(encoded) > maxBytes
}

// Split divides encoded into chunk envelopes of at most maxBytes of
// payload data each. originalID links the chunks back to the Request or
// Response they came from; it is carried so the receiver can correlate
// the reassembled message even before it is decoded.
func Split(encoded []byte, originalID string, maxBytes int) ([]*ChunkEnvelope, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("envelope: chunk size must be positive, got %d", maxBytes)
	}
	total := (len(encoded) + maxBytes - 1) / maxBytes
	if total == 0 {
		total = 1
	}
	groupID := uuid.New().String()
	chunks := make([]*ChunkEnvelope, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxBytes
		end := start + maxBytes
		if end > len(encoded) {
			end = len(encoded)
		}
		data := make([]byte, end-start)
		copy(data, encoded[start:end])
		chunks = append(chunks, &ChunkEnvelope{
			GroupID:    groupID,
			Index:      i,
			Total:      total,
			OriginalID: originalID,
			Data:       data,
		})
	}
	return chunks, nil
}

// Reassembler accumulates ChunkEnvelopes by GroupID until a complete
// sequence arrives, then hands back the concatenated bytes. Not safe for
// concurrent use from multiple goroutines without external locking — the
// Client and Server each own one Reassembler and guard every Add with
// their own mutex.
type Reassembler struct {
	groups map[string]*chunkGroup
}

type chunkGroup struct {
	total   int
	pieces  map[int][]byte
	origID  string
}

// NewReassembler creates an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{groups: make(map[string]*chunkGroup)}
}

// Add feeds one chunk into the reassembler. It returns the reassembled
// bytes and true once every chunk in the group has arrived; otherwise it
// returns (nil, false, nil) while more chunks are awaited, or a non-nil
// error for a chunk with an invalid total or an out-of-range index.
func (r *Reassembler) Add(c *ChunkEnvelope) ([]byte, bool, error) {
	g, ok := r.groups[c.GroupID]
	if !ok {
		if c.Total <= 0 {
			return nil, false, fmt.Errorf("envelope: chunk group %s: invalid total %d", c.GroupID, c.Total)
		}
		g = &chunkGroup{total: c.Total, pieces: make(map[int][]byte, c.Total), origID: c.OriginalID}
		r.groups[c.GroupID] = g
	}
	if c.Index < 0 || c.Index >= g.total {
		return nil, false, fmt.Errorf("envelope: chunk group %s: index %d out of range [0,%d)", c.GroupID, c.Index, g.total)
	}
	g.pieces[c.Index] = c.Data

	if len(g.pieces) < g.total {
		return nil, false, nil
	}

	merged := make([]byte, 0, g.total*len(c.Data))
	for i := 0; i < g.total; i++ {
		piece, ok := g.pieces[i]
		if !ok {
			return nil, false, fmt.Errorf("envelope: chunk group %s: missing index %d at completion", c.GroupID, i)
		}
		merged = append(merged, piece...)
	}
	delete(r.groups, c.GroupID)
	return merged, true, nil
}

// Abandon discards any partially-received group. Neither the Client nor
// the Server calls it; incomplete groups stay held until they complete.
func (r *Reassembler) Abandon(groupID string) {
	delete(r.groups, groupID)
}

// EncodeChunk and DecodeChunk move a ChunkEnvelope to/from wire bytes.
func EncodeChunk(c *ChunkEnvelope) ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, &SerializationError{Op: "encode chunk", Err: err}
	}
	return b, nil
}

// DecodeChunk parses wire bytes into a ChunkEnvelope. isChunk reports
// whether data actually looks like a chunk envelope (has a non-empty
// groupId) so callers can distinguish chunks from ordinary envelopes
// sharing the same channel.
func DecodeChunk(data []byte) (*ChunkEnvelope, bool) {
	var c ChunkEnvelope
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, false
	}
	if c.GroupID == "" {
		return nil, false
	}
	return &c, true
}
