package utils

import "io"

// ReaderAndByteReader Decoders read fixed fields with Read and varints with ReadByte
type ReaderAndByteReader interface {
	io.Reader
	io.ByteReader
}
