package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samogod/trainconf/pkg/schema"
)

const DataParamsFile = "data_params.json"

var (
	DefaultFeatures = []string{"input_ids", "attention_mask", "labels"}
	VSLFeatures     = []string{"input_ids", "attention_mask", "labels", "attention_span", "position_ids"}
)

// Features lists the per-sample fields, one group per HDF5 dataset
// ("data" or "data_0", "data_1", ...).
type Features struct {
	Groups [][]string `json:"groups"`
	Source string     `json:"source"`
}

func (f Features) NumGroups() int {
	return len(f.Groups)
}

// ResolveFeatures decides which fields a sample carries. Variable sequence
// length training fixes the set; otherwise data_params.json next to a
// data_dir given as a single string wins over features_list, which wins over the
// default triple.
func ResolveFeatures(spec schema.DataInputSpec) (Features, error) {
	if spec.UseVSL {
		return Features{Groups: [][]string{VSLFeatures}, Source: "use_vsl"}, nil
	}

	if spec.DataDirScalar && len(spec.DataDir) == 1 {
		path := filepath.Join(spec.DataDir[0], DataParamsFile)
		groups, err := readDataParams(path)
		switch {
		case err == nil && len(groups) > 0:
			return Features{Groups: groups, Source: path}, nil
		case err != nil && !errors.Is(err, os.ErrNotExist):
			if DebugLog != nil {
				DebugLog("ignoring %s: %v", path, err)
			}
		}
	}

	if spec.FeaturesList != nil {
		return Features{Groups: [][]string{spec.FeaturesList}, Source: "features_list"}, nil
	}
	return Features{Groups: [][]string{DefaultFeatures}, Source: "default"}, nil
}

type dataParams map[string]json.RawMessage

func readDataParams(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var params dataParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if raw, ok := params["features"]; ok {
		var features []string
		if err := json.Unmarshal(raw, &features); err != nil {
			return nil, fmt.Errorf("features: %w", err)
		}
		return [][]string{features}, nil
	}

	var groups [][]string
	for i := 0; ; i++ {
		raw, ok := params[fmt.Sprintf("data_%d_features", i)]
		if !ok {
			break
		}
		var features []string
		if err := json.Unmarshal(raw, &features); err != nil {
			return nil, fmt.Errorf("data_%d_features: %w", i, err)
		}
		groups = append(groups, features)
	}
	return groups, nil
}
