package transport

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/ocurero/discoro/internal/wire"
)

// fileReceiver is the net/rpc-exported "FileTransfer" service every
// Transport registers on itself. SendFile on the sending side calls
// Receive once per chunk; the file is written to a ".part" temp path and
// atomically renamed into destDir once the Final chunk lands, so a
// partially transferred file is never visible under its real name.
type fileReceiver struct {
	destDir     string
	maxFileSize int64
	logger      *zap.Logger

	mu    sync.Mutex
	open  map[string]*os.File
	sizes map[string]int64
}

func newFileReceiver(destDir string, maxFileSize int64, logger *zap.Logger) *fileReceiver {
	return &fileReceiver{
		destDir:     destDir,
		maxFileSize: maxFileSize,
		logger:      logger,
		open:        make(map[string]*os.File),
		sizes:       make(map[string]int64),
	}
}

// Receive handles one FileChunk. A negative FileChunkAck.Code on any
// chunk aborts the whole transfer, matching spec.md §6's "send_file(...)
// -> int negative on failure" contract.
func (r *fileReceiver) Receive(chunk wire.FileChunk, reply *wire.FileChunkAck) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.open[chunk.TransferID]
	if !ok {
		if err := os.MkdirAll(r.destDir, 0o755); err != nil {
			reply.Code = -1
			return nil
		}
		partPath := filepath.Join(r.destDir, chunk.Name+".part")
		newF, err := os.Create(partPath)
		if err != nil {
			r.logger.Warn("file transfer: create failed", zap.String("path", partPath), zap.Error(err))
			reply.Code = -1
			return nil
		}
		f = newF
		r.open[chunk.TransferID] = f
	}

	r.sizes[chunk.TransferID] += int64(len(chunk.Data))
	if r.maxFileSize > 0 && r.sizes[chunk.TransferID] > r.maxFileSize {
		f.Close()
		os.Remove(f.Name())
		delete(r.open, chunk.TransferID)
		delete(r.sizes, chunk.TransferID)
		reply.Code = -1
		return nil
	}

	if _, err := f.WriteAt(chunk.Data, chunk.Offset); err != nil {
		reply.Code = -1
		return nil
	}

	if chunk.Final {
		partPath := f.Name()
		f.Close()
		delete(r.open, chunk.TransferID)
		delete(r.sizes, chunk.TransferID)

		finalPath := filepath.Join(r.destDir, chunk.Name)
		if err := os.Rename(partPath, finalPath); err != nil {
			reply.Code = -1
			return nil
		}
	}

	reply.Code = 0
	return nil
}

// chunkSize is the bounded frame size SendFile splits a file into.
const chunkSize = 64 * 1024

// sendChunks streams localPath to the FileTransfer service through deliver.
// It is a free function (not a Transport method) so it can share a
// single Deliver call shape with the rest of the package.
func sendChunks(deliver func(serviceMethod string, args, reply any) error, transferID, name, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("transport: open %s: %w", localPath, err)
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	var offset int64
	for {
		n, err := f.Read(buf)
		final := false
		if err == io.EOF {
			final = true
		} else if err != nil {
			return fmt.Errorf("transport: read %s: %w", localPath, err)
		}

		var reply wire.FileChunkAck
		chunk := wire.FileChunk{
			TransferID: transferID,
			Name:       name,
			Offset:     offset,
			Data:       append([]byte(nil), buf[:n]...),
			Final:      final && n == 0,
		}
		if n > 0 || final {
			if derr := deliver("FileTransfer.Receive", chunk, &reply); derr != nil {
				return derr
			}
			if reply.Code < 0 {
				return fmt.Errorf("transport: remote rejected chunk at offset %d", offset)
			}
		}
		offset += int64(n)
		if final {
			return nil
		}
	}
}
