package patch

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/apk-patcher/internal/domain/apk"
)

// Request field names.
const (
	FieldSourceDir  = "source_dir"
	FieldOutputDir  = "output_dir"
	FieldModFile    = "mod_file"
	FieldMapsAPIKey = "maps_api_key"
	FieldRepackage  = "repackage"
	FieldActor      = "requested_by"
	FieldHostname   = "hostname"
	FieldUsername   = "username"
)

var (
	errRequestRequired = errors.New("request is required")
	errWrongFieldType  = errors.New("unexpected field type")
)

// Request is the transport form of a patch request. Signing material is not
// part of it: the daemon signs with its own keystore.
type Request struct {
	SourceDir  string
	OutputDir  string
	ModFile    string
	MapsAPIKey *string
	Repackage  bool
	Actor      *apk.Actor
}

// EncodeRequest converts req into a Struct message. An absent maps key is
// encoded as null so "no key" and "empty key" stay distinct.
func EncodeRequest(req *Request) (*structpb.Struct, error) {
	if req == nil {
		return nil, errRequestRequired
	}

	fields := map[string]any{
		FieldSourceDir:  req.SourceDir,
		FieldOutputDir:  req.OutputDir,
		FieldModFile:    req.ModFile,
		FieldMapsAPIKey: nil,
		FieldRepackage:  req.Repackage,
	}

	if req.MapsAPIKey != nil {
		fields[FieldMapsAPIKey] = *req.MapsAPIKey
	}

	if req.Actor != nil {
		fields[FieldActor] = map[string]any{
			FieldHostname: req.Actor.Hostname,
			FieldUsername: req.Actor.Username,
		}
	}

	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	return msg, nil
}

// DecodeRequest converts a Struct message back into a Request.
func DecodeRequest(msg *structpb.Struct) (*Request, error) {
	if msg == nil {
		return nil, errRequestRequired
	}

	fields := msg.GetFields()
	req := new(Request)

	var err error

	if req.SourceDir, err = stringField(fields, FieldSourceDir); err != nil {
		return nil, err
	}

	if req.OutputDir, err = stringField(fields, FieldOutputDir); err != nil {
		return nil, err
	}

	if req.ModFile, err = stringField(fields, FieldModFile); err != nil {
		return nil, err
	}

	if v, ok := fields[FieldMapsAPIKey]; ok {
		if _, isNull := v.GetKind().(*structpb.Value_NullValue); !isNull {
			key, ok := v.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return nil, fmt.Errorf("%s: %w", FieldMapsAPIKey, errWrongFieldType)
			}

			req.MapsAPIKey = &key.StringValue
		}
	}

	if v, ok := fields[FieldRepackage]; ok {
		flag, ok := v.GetKind().(*structpb.Value_BoolValue)
		if !ok {
			return nil, fmt.Errorf("%s: %w", FieldRepackage, errWrongFieldType)
		}

		req.Repackage = flag.BoolValue
	}

	if v, ok := fields[FieldActor]; ok {
		actor := v.GetStructValue()
		if actor == nil {
			return nil, fmt.Errorf("%s: %w", FieldActor, errWrongFieldType)
		}

		req.Actor = &apk.Actor{
			Hostname: actor.GetFields()[FieldHostname].GetStringValue(),
			Username: actor.GetFields()[FieldUsername].GetStringValue(),
		}
	}

	return req, nil
}

func stringField(fields map[string]*structpb.Value, name string) (string, error) {
	v, ok := fields[name]
	if !ok {
		return "", nil
	}

	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return kind.StringValue, nil
	case *structpb.Value_NullValue:
		return "", nil
	default:
		return "", fmt.Errorf("%s: %w", name, errWrongFieldType)
	}
}
