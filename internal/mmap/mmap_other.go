//go:build !unix

package mmap

import "os"

// Open reads the file at path into memory. Platforms without mmap
// support get a heap-backed Mapping with the same interface.
func Open(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Mapping{data: data}, nil
}

func release([]byte) error {
	return nil
}
