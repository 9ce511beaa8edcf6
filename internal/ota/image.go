package ota

import (
	"encoding/base64"
	"hash/crc32"
)

// ChunkSize is the payload size of one upload request before base64.
const ChunkSize = 768

// Chunk is one slice of a firmware image at a byte offset.
type Chunk struct {
	Offset int
	Data   []byte
}

// Encoded returns the chunk payload as standard base64.
func (c Chunk) Encoded() string {
	return base64.StdEncoding.EncodeToString(c.Data)
}

// Checksum is the IEEE CRC-32 the device verifies the staged image against.
func Checksum(image []byte) uint32 {
	return crc32.ChecksumIEEE(image)
}

// Chunks splits image into sequential chunks of at most size bytes. The
// returned slices alias image.
func Chunks(image []byte, size int) []Chunk {
	if size <= 0 {
		size = ChunkSize
	}
	chunks := make([]Chunk, 0, (len(image)+size-1)/size)
	for off := 0; off < len(image); off += size {
		end := off + size
		if end > len(image) {
			end = len(image)
		}
		chunks = append(chunks, Chunk{Offset: off, Data: image[off:end]})
	}
	return chunks
}
