package models

import "time"

// ImageBlob is a captured image owned by exactly one record.
type ImageBlob struct {
	Ref       string
	RecordID  string
	Bytes     []byte
	SizeBytes int64
	Checksum  []byte
	CreatedAt time.Time
}
