package store

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"gopkg.in/yaml.v3"

	"github.com/tira-io/tirad/internal/model"
)

// Text forms are YAML documents; binary sidecars are protobuf wire format
// with the field numbers below. Unknown fields are skipped on decode.

const (
	runTaskID protowire.Number = iota + 1
	runSoftwareID
	runRunID
	runInputDataset
	runInputRun
	runDeleted
	runDownloadable
	runAccessToken
)

const (
	reviewRunID protowire.Number = iota + 1
	reviewReviewerID
	reviewReviewDate
	reviewNoErrors
	reviewMissingOutput
	reviewExtraneousOutput
	reviewInvalidOutput
	reviewHasErrorOutput
	reviewOtherErrors
	reviewComment
	reviewHasErrors
	reviewHasWarnings
	reviewHasNoErrors
	reviewPublished
	reviewBlinded
)

const (
	evaluationMeasure protowire.Number = 1
	measureKey        protowire.Number = 1
	measureValue      protowire.Number = 2
)

func encodeText(v any) ([]byte, error) {
	b, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode text: %w", err)
	}
	return b, nil
}

func decodeText(b []byte, v any) error {
	if err := yaml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", model.ErrParse, err)
	}
	return nil
}

func marshalRun(r model.Run) []byte {
	var b []byte
	b = appendString(b, runTaskID, r.TaskID)
	b = appendString(b, runSoftwareID, r.SoftwareID)
	b = appendString(b, runRunID, r.RunID)
	b = appendString(b, runInputDataset, r.InputDataset)
	b = appendString(b, runInputRun, r.InputRun)
	b = appendBool(b, runDeleted, r.Deleted)
	b = appendBool(b, runDownloadable, r.Downloadable)
	b = appendString(b, runAccessToken, r.AccessToken)
	return b
}

func unmarshalRun(b []byte) (model.Run, error) {
	var r model.Run
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case runTaskID:
			return consumeString(typ, b, &r.TaskID)
		case runSoftwareID:
			return consumeString(typ, b, &r.SoftwareID)
		case runRunID:
			return consumeString(typ, b, &r.RunID)
		case runInputDataset:
			return consumeString(typ, b, &r.InputDataset)
		case runInputRun:
			return consumeString(typ, b, &r.InputRun)
		case runDeleted:
			return consumeBool(typ, b, &r.Deleted)
		case runDownloadable:
			return consumeBool(typ, b, &r.Downloadable)
		case runAccessToken:
			return consumeString(typ, b, &r.AccessToken)
		}
		return 0
	})
	return r, err
}

func marshalReview(rr model.RunReview) []byte {
	var b []byte
	b = appendString(b, reviewRunID, rr.RunID)
	b = appendString(b, reviewReviewerID, rr.ReviewerID)
	b = appendString(b, reviewReviewDate, rr.ReviewDate)
	b = appendBool(b, reviewNoErrors, rr.NoErrors)
	b = appendBool(b, reviewMissingOutput, rr.MissingOutput)
	b = appendBool(b, reviewExtraneousOutput, rr.ExtraneousOutput)
	b = appendBool(b, reviewInvalidOutput, rr.InvalidOutput)
	b = appendBool(b, reviewHasErrorOutput, rr.HasErrorOutput)
	b = appendBool(b, reviewOtherErrors, rr.OtherErrors)
	b = appendString(b, reviewComment, rr.Comment)
	b = appendBool(b, reviewHasErrors, rr.HasErrors)
	b = appendBool(b, reviewHasWarnings, rr.HasWarnings)
	b = appendBool(b, reviewHasNoErrors, rr.HasNoErrors)
	// Presence matters for published and blinded, so false is written too.
	if rr.Published != nil {
		b = protowire.AppendTag(b, reviewPublished, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(*rr.Published))
	}
	if rr.Blinded != nil {
		b = protowire.AppendTag(b, reviewBlinded, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(*rr.Blinded))
	}
	return b
}

func unmarshalReview(b []byte) (model.RunReview, error) {
	var rr model.RunReview
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case reviewRunID:
			return consumeString(typ, b, &rr.RunID)
		case reviewReviewerID:
			return consumeString(typ, b, &rr.ReviewerID)
		case reviewReviewDate:
			return consumeString(typ, b, &rr.ReviewDate)
		case reviewNoErrors:
			return consumeBool(typ, b, &rr.NoErrors)
		case reviewMissingOutput:
			return consumeBool(typ, b, &rr.MissingOutput)
		case reviewExtraneousOutput:
			return consumeBool(typ, b, &rr.ExtraneousOutput)
		case reviewInvalidOutput:
			return consumeBool(typ, b, &rr.InvalidOutput)
		case reviewHasErrorOutput:
			return consumeBool(typ, b, &rr.HasErrorOutput)
		case reviewOtherErrors:
			return consumeBool(typ, b, &rr.OtherErrors)
		case reviewComment:
			return consumeString(typ, b, &rr.Comment)
		case reviewHasErrors:
			return consumeBool(typ, b, &rr.HasErrors)
		case reviewHasWarnings:
			return consumeBool(typ, b, &rr.HasWarnings)
		case reviewHasNoErrors:
			return consumeBool(typ, b, &rr.HasNoErrors)
		case reviewPublished:
			var v bool
			n := consumeBool(typ, b, &v)
			if n > 0 {
				rr.Published = model.Bool(v)
			}
			return n
		case reviewBlinded:
			var v bool
			n := consumeBool(typ, b, &v)
			if n > 0 {
				rr.Blinded = model.Bool(v)
			}
			return n
		}
		return 0
	})
	return rr, err
}

func marshalEvaluation(e model.Evaluation) []byte {
	var b []byte
	for _, m := range e.Measures {
		var mb []byte
		mb = appendString(mb, measureKey, m.Key)
		mb = appendString(mb, measureValue, m.Value)
		b = protowire.AppendTag(b, evaluationMeasure, protowire.BytesType)
		b = protowire.AppendBytes(b, mb)
	}
	return b
}

func unmarshalEvaluation(b []byte) (model.Evaluation, error) {
	var e model.Evaluation
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num != evaluationMeasure || typ != protowire.BytesType {
			return 0
		}
		mb, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n
		}
		var m model.Measure
		err := walkFields(mb, func(num protowire.Number, typ protowire.Type, b []byte) int {
			switch num {
			case measureKey:
				return consumeString(typ, b, &m.Key)
			case measureValue:
				return consumeString(typ, b, &m.Value)
			}
			return 0
		})
		if err != nil {
			return -1
		}
		e.Measures = append(e.Measures, m)
		return n
	})
	return e, err
}

// walkFields calls visit for every field of a message. visit returns the
// number of value bytes it consumed, 0 to skip the field, or a negative
// protowire error code.
func walkFields(b []byte, visit func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", model.ErrParse, protowire.ParseError(n))
		}
		b = b[n:]

		m := visit(num, typ, b)
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", model.ErrParse, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func consumeString(typ protowire.Type, b []byte, dst *string) int {
	if typ != protowire.BytesType {
		return 0
	}
	s, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = s
	}
	return n
}

func consumeBool(typ protowire.Type, b []byte, dst *bool) int {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = protowire.DecodeBool(v)
	}
	return n
}
