package conv

import (
	"errors"

	"github.com/adammck/rover/pkg/api"
)

func UnitIDFromProto(p string) (api.UnitID, error) {
	id := api.UnitID(p)

	if id == api.ZeroUnit {
		return id, errors.New("missing: unit")
	}

	return id, nil
}

func UnitIDToProto(id api.UnitID) string {
	return string(id)
}
