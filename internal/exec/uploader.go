package exec

import (
	"context"
	"hash/crc32"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/spikelink/internal/frame"
	"github.com/srg/spikelink/internal/link"
)

// JobState is the lifecycle of one code transfer.
type JobState int

const (
	JobPending JobState = iota
	JobInFlight
	JobAcked
	JobFailed
)

var jobStateNames = map[JobState]string{
	JobPending:  "Pending",
	JobInFlight: "InFlight",
	JobAcked:    "Acked",
	JobFailed:   "Failed",
}

func (s JobState) String() string {
	if name, ok := jobStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// UploadJob represents one code transfer: the ordered chunk slices,
// the total byte length, and the completion state.
type UploadJob struct {
	ID         uuid.UUID
	Chunks     [][]byte
	TotalBytes int
	State      JobState
}

// SplitChunks slices source into transfer chunks sized to the
// negotiated MTU minus the per-frame overhead. An empty source yields
// no data chunks; the terminal LastChunk frame is always sent
// separately.
func SplitChunks(source []byte, mtu int) [][]byte {
	chunkSize := mtu - frame.Overhead
	if chunkSize < 1 {
		return nil
	}
	chunks := make([][]byte, 0, (len(source)+chunkSize-1)/chunkSize)
	for off := 0; off < len(source); off += chunkSize {
		end := off + chunkSize
		if end > len(source) {
			end = len(source)
		}
		chunks = append(chunks, source[off:end])
	}
	return chunks
}

// Uploader drives chunk-by-chunk code transfer over a link with
// stop-and-wait flow control: one chunk in flight, resent up to
// MaxChunkRetries times when its ack does not arrive in time. BLE
// links have small unreliable MTUs, and out-of-order chunk arrival
// would require reassembly buffering on the hub that the protocol does
// not assume.
type Uploader struct {
	link   link.Link
	cfg    *Config
	acks   <-chan frame.Frame
	logger *logrus.Logger
}

// NewUploader creates an uploader consuming acknowledgements from acks.
func NewUploader(l link.Link, cfg *Config, acks <-chan frame.Frame, logger *logrus.Logger) *Uploader {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Uploader{link: l, cfg: cfg, acks: acks, logger: logger}
}

// Upload transfers source to the hub under jobID. It returns the job
// in the Acked state on success; on any failure the job is left in
// JobFailed, never dangling, and the typed error describes the cause.
func (u *Uploader) Upload(ctx context.Context, jobID uuid.UUID, source []byte) (*UploadJob, error) {
	session := u.link.Session()
	job := &UploadJob{
		ID:         jobID,
		Chunks:     SplitChunks(source, session.MTU()),
		TotalBytes: len(source),
		State:      JobInFlight,
	}

	u.logger.WithFields(logrus.Fields{
		"job":    jobID,
		"bytes":  job.TotalBytes,
		"chunks": len(job.Chunks),
		"mtu":    session.MTU(),
	}).Info("Starting code upload")

	for i, chunk := range job.Chunks {
		if err := u.sendChunkAcked(ctx, session, frame.TypeChunk, chunk, uint32(i)); err != nil {
			job.State = JobFailed
			return job, err
		}
	}

	// The terminal zero-length chunk carries the CRC of the whole
	// source so the hub can verify the assembled blob before parsing.
	last := frame.EncodeLastChunk(crc32.ChecksumIEEE(source))
	if err := u.sendChunkAcked(ctx, session, frame.TypeLastChunk, last, uint32(len(job.Chunks))); err != nil {
		job.State = JobFailed
		return job, err
	}

	job.State = JobAcked
	u.logger.WithField("job", jobID).Info("Code upload acknowledged")
	return job, nil
}

// sendChunkAcked sends one chunk and waits for its acknowledgement,
// resending on timeout until the retry budget is exhausted.
func (u *Uploader) sendChunkAcked(ctx context.Context, session *link.Session, ftype frame.Type, payload []byte, index uint32) error {
	wantAck := frame.TypeChunkAck
	if ftype == frame.TypeLastChunk {
		wantAck = frame.TypeLastChunkAck
	}

	attempts := u.cfg.MaxChunkRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		buf, err := frame.Encode(frame.Frame{
			Type:    ftype,
			Seq:     session.NextSeq(),
			Payload: payload,
		})
		if err != nil {
			return classify(err)
		}
		if err := u.link.Write(ctx, buf); err != nil {
			u.logger.WithFields(logrus.Fields{
				"chunk": index,
				"error": err,
			}).Error("Chunk write failed")
			return classify(err)
		}

		acked, err := u.awaitAck(ctx, wantAck, index)
		if err != nil {
			return err
		}
		if acked {
			return nil
		}

		u.logger.WithFields(logrus.Fields{
			"chunk":   index,
			"attempt": attempt,
			"of":      attempts,
		}).Warn("Chunk ack timeout, resending")
	}

	return Errorf(ChunkTimeout, "chunk %d unacknowledged after %d attempts", index, attempts)
}

// awaitAck waits for the matching acknowledgement. Stale acks for
// earlier chunks (retransmission echoes) are skipped; the timeout
// applies to the whole wait for this chunk's ack.
func (u *Uploader) awaitAck(ctx context.Context, wantType frame.Type, wantIndex uint32) (bool, error) {
	timer := time.NewTimer(u.cfg.ChunkAckTimeout)
	defer timer.Stop()

	for {
		select {
		case f := <-u.acks:
			if f.Type != wantType {
				u.logger.WithField("frame", f.String()).Debug("Skipping ack of unexpected type")
				continue
			}
			index, err := frame.DecodeChunkAck(f.Payload)
			if err != nil {
				u.logger.WithField("error", err).Warn("Skipping malformed chunk ack")
				continue
			}
			if index < wantIndex {
				u.logger.WithFields(logrus.Fields{
					"acked": index,
					"want":  wantIndex,
				}).Debug("Skipping stale chunk ack")
				continue
			}
			return true, nil
		case <-timer.C:
			return false, nil
		case <-ctx.Done():
			return false, classify(ctx.Err())
		}
	}
}
