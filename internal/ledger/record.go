package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/tracemark/internal/apperr"
	"github.com/starford/tracemark/internal/models"
)

// recordVersion is the schema version written into stored perturbation records.
const recordVersion = 1

// storedRecord is the on-disk form of a perturbation record.
//
//	{"version":1,"sites":[{"x":3,"y":7,"color":[12,200,31]}, ...]}
type storedRecord struct {
	Version int          `json:"version"`
	Sites   []storedSite `json:"sites"`
}

type storedSite struct {
	X     *int  `json:"x"`
	Y     *int  `json:"y"`
	Color []int `json:"color"`
}

func (s storedSite) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.X, validation.NotNil, validation.Min(0)),
		validation.Field(&s.Y, validation.NotNil, validation.Min(0)),
		validation.Field(&s.Color, validation.Required, validation.Length(3, 3),
			validation.Each(validation.Min(0), validation.Max(255))),
	)
}

// EncodeRecord serializes rec in the versioned JSON schema.
func EncodeRecord(rec models.PerturbationRecord) (string, error) {
	out := storedRecord{Version: recordVersion, Sites: make([]storedSite, len(rec))}
	for i, s := range rec {
		x, y := s.X, s.Y
		out.Sites[i] = storedSite{X: &x, Y: &y, Color: []int{int(s.Color[0]), int(s.Color[1]), int(s.Color[2])}}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("ledger: encode record: %w", err)
	}
	return string(data), nil
}

// DecodeRecord parses a stored record. Unknown fields, trailing data,
// unsupported versions and out-of-range values are all rejected with
// apperr.ErrDeserialization.
func DecodeRecord(raw string) (models.PerturbationRecord, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()

	var in storedRecord
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("ledger: decode record: %w: %w", apperr.ErrDeserialization, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("ledger: decode record: trailing data: %w", apperr.ErrDeserialization)
	}
	if in.Version != recordVersion {
		return nil, fmt.Errorf("ledger: decode record: unsupported version %d: %w", in.Version, apperr.ErrDeserialization)
	}
	if in.Sites == nil {
		return nil, fmt.Errorf("ledger: decode record: missing sites: %w", apperr.ErrDeserialization)
	}

	rec := make(models.PerturbationRecord, len(in.Sites))
	for i, s := range in.Sites {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("ledger: decode record: site %d: %w: %w", i, apperr.ErrDeserialization, err)
		}
		rec[i] = models.Site{
			X:     *s.X,
			Y:     *s.Y,
			Color: models.RGB{uint8(s.Color[0]), uint8(s.Color[1]), uint8(s.Color[2])},
		}
	}
	return rec, nil
}
