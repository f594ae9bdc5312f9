package conv

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/adammck/rover/pkg/api"
	"google.golang.org/protobuf/types/known/structpb"
)

// Field names. Versions are encoded as decimal strings rather than numbers,
// because Struct numbers are float64.
const (
	fUnit      = "unit"
	fHost      = "host"
	fVersion   = "version"
	fRequester = "requester"
	fRecords   = "records"
)

func str(s *structpb.Struct, k string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[k].GetStringValue()
}

func RecordToProto(rec api.Record) *structpb.Struct {
	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			fUnit:    structpb.NewStringValue(UnitIDToProto(rec.Unit)),
			fHost:    structpb.NewStringValue(string(rec.Handle.Host)),
			fVersion: structpb.NewStringValue(strconv.FormatUint(uint64(rec.Version), 10)),
		},
	}
}

func RecordFromProto(s *structpb.Struct) (api.Record, error) {
	if s == nil {
		return api.Record{}, errors.New("missing: record")
	}

	id, err := UnitIDFromProto(str(s, fUnit))
	if err != nil {
		return api.Record{}, err
	}

	host := api.HostID(str(s, fHost))
	if host == api.ZeroHostID {
		return api.Record{}, errors.New("missing: host")
	}

	v, err := strconv.ParseUint(str(s, fVersion), 10, 64)
	if err != nil {
		return api.Record{}, fmt.Errorf("parsing version: %v", err)
	}

	return api.Record{
		Unit: id,
		Handle: api.Handle{
			Unit: id,
			Host: host,
		},
		Version: api.Version(v),
	}, nil
}

func LookupRequestToProto(requester api.RequesterID, id api.UnitID) *structpb.Struct {
	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			fRequester: structpb.NewStringValue(string(requester)),
			fUnit:      structpb.NewStringValue(UnitIDToProto(id)),
		},
	}
}

// LookupRequestFromProto parses a lookup request. The requester may be empty;
// it's up to the server to decide what to do about that.
func LookupRequestFromProto(s *structpb.Struct) (api.RequesterID, api.UnitID, error) {
	id, err := UnitIDFromProto(str(s, fUnit))
	if err != nil {
		return "", id, err
	}

	return api.RequesterID(str(s, fRequester)), id, nil
}

func RecordsToProto(recs []api.Record) *structpb.Struct {
	vals := make([]*structpb.Value, len(recs))
	for i := range recs {
		vals[i] = structpb.NewStructValue(RecordToProto(recs[i]))
	}

	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			fRecords: structpb.NewListValue(&structpb.ListValue{Values: vals}),
		},
	}
}

func RecordsFromProto(s *structpb.Struct) ([]api.Record, error) {
	vals := s.GetFields()[fRecords].GetListValue().GetValues()
	out := make([]api.Record, len(vals))

	for i, v := range vals {
		rec, err := RecordFromProto(v.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("record %d: %v", i, err)
		}
		out[i] = rec
	}

	return out, nil
}
