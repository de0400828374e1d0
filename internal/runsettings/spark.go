// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runsettings

import (
	"encoding/json"
	"fmt"
	"maps"
)

// DefaultSparkConf returns the built-in spark configuration every spark step
// starts from.
func DefaultSparkConf() map[string]any {
	return map[string]any{
		"spark.yarn.maxAppAttempts":                            "1",
		"spark.yarn.appMasterEnv.PYSPARK_PYTHON":               "/usr/bin/anaconda/envs/py37/bin/python3",
		"spark.yarn.appMasterEnv.PYSPARK_DRIVER_PYTHON":        "/usr/bin/anaconda/envs/py37/bin/python3",
		"spark.yarn.appMasterEnv.DOTNET_ASSEMBLY_SEARCH_PATHS": "./udfs",
		"spark.executorEnv.DOTNET_ASSEMBLY_SEARCH_PATHS":       "./udfs",
	}
}

// MergeSparkConf overlays override on defaults. override may be nil, a JSON
// object string or a nested map. Maps are flattened to dot-joined keys
// first, so {"spark": {"sql": {"shuffle.partitions": 8}}} replaces the
// single "spark.sql.shuffle.partitions" entry. A JSON string is decoded and
// merged as is: its top-level keys are the conf keys. defaults is not
// modified.
func MergeSparkConf(defaults map[string]any, override any) (map[string]any, error) {
	merged := maps.Clone(defaults)
	if merged == nil {
		merged = make(map[string]any)
	}

	switch v := override.(type) {
	case nil:
	case string:
		var decoded map[string]any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return nil, fmt.Errorf("spark conf is not a valid JSON object: %w", err)
		}
		maps.Copy(merged, decoded)
	case map[string]any:
		maps.Copy(merged, flatten(v))
	case map[string]string:
		for k, s := range v {
			merged[k] = s
		}
	default:
		return nil, fmt.Errorf("spark conf must be a JSON string or a mapping, got %T", override)
	}
	return merged, nil
}

// flatten joins nested map keys with ".".
func flatten(tree map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
				walk(key, nested)
				continue
			}
			out[key] = v
		}
	}
	walk("", tree)
	return out
}
