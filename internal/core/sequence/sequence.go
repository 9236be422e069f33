// Package sequence derives stable identifiers for image sequences and handles
// the frame naming conventions of sequence members.
package sequence

import (
	"crypto/sha1"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/agenthands/annobridge/internal/core/common"
	"github.com/agenthands/annobridge/internal/core/model"
)

// Derive returns the name-based identifier of a sequence: the first 16 bytes
// of SHA-1("{datasetID}/{sequenceName}") with the RFC 4122 version 5 and
// variant bits applied. No namespace is mixed into the digest.
func Derive(datasetID, sequenceName string) uuid.UUID {
	sum := sha1.Sum([]byte(datasetID + "/" + sequenceName))

	var id uuid.UUID
	copy(id[:], sum[:16])
	id[6] = (id[6] & 0x0f) | 0x50
	id[8] = (id[8] & 0x3f) | 0x80
	return id
}

// Assign fills in the sequence identifier and frame number of a sample, or
// clears both when the sample is not part of a sequence.
func Assign(datasetID string, s *model.Sample) {
	if !s.InSequence() {
		s.SequenceUUID = nil
		s.FrameNumber = nil
		return
	}
	id := Derive(datasetID, s.SequenceName)
	s.SequenceUUID = &id
	if s.FrameNumber == nil {
		if frame, ok := ParseFrame(s.ImageName, s.SequenceName); ok {
			s.FrameNumber = &frame
		}
	}
}

// Validate checks that a sample's sequence fields are consistent: a sequence
// member carries an identifier, a standalone image carries neither an
// identifier nor a frame number.
func Validate(s model.Sample) error {
	if s.InSequence() {
		if s.SequenceUUID == nil {
			return common.SchemaMismatch("sample %q in sequence %q has no sequence_uuid", s.ImageName, s.SequenceName)
		}
		return nil
	}
	if s.SequenceUUID != nil || s.FrameNumber != nil {
		return common.SchemaMismatch("sample %q has sequence fields without a sequence_name", s.ImageName)
	}
	return nil
}

// ParseFrame extracts the frame number from names shaped like
// "{sequence}_{frame}.ext".
func ParseFrame(imageName, sequenceName string) (int, bool) {
	if imageName == "" || sequenceName == "" {
		return 0, false
	}
	stem := common.ImageKey(imageName)
	rest, ok := strings.CutPrefix(stem, sequenceName+"_")
	if !ok {
		return 0, false
	}
	frame, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return int(frame), true
}

// FlattenedName prefixes a sequence member's file name with its sequence and
// frame so that frames from different sequences can share one directory.
// Names already carrying the "{sequence}_" prefix are returned unchanged.
func FlattenedName(baseName, sequenceName string, frame *int) string {
	if sequenceName == "" {
		return baseName
	}
	prefix := sequenceName + "_"
	if strings.HasPrefix(baseName, prefix) {
		return baseName
	}
	if frame != nil {
		return fmt.Sprintf("%s%d_%s", prefix, *frame, baseName)
	}
	return prefix + baseName
}
