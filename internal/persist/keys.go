package persist

import "strings"

const (
	keySep             = "::"
	modelStorePrefix   = "modelstore"
	querysetStoreLabel = "querysetstore"
	operationsSuffix   = "operations"
	groundTruthSuffix  = "groundtruth"
)

// ModelOperationsKey builds the key for a model store's operation log.
func ModelOperationsKey(modelName, configKey string) string {
	return strings.Join([]string{modelStorePrefix, modelName, configKey, operationsSuffix}, keySep)
}

// ModelGroundTruthKey builds the key for a model store's ground truth.
func ModelGroundTruthKey(modelName, configKey string) string {
	return strings.Join([]string{modelStorePrefix, modelName, configKey, groundTruthSuffix}, keySep)
}

// QuerysetOperationsKey builds the key for a queryset store's operation log.
func QuerysetOperationsKey(modelName, configKey, astHash string) string {
	return strings.Join([]string{modelName, configKey, querysetStoreLabel, astHash, operationsSuffix}, keySep)
}

// QuerysetGroundTruthKey builds the key for a queryset store's ground truth
// primary key list.
func QuerysetGroundTruthKey(modelName, configKey, astHash string) string {
	return strings.Join([]string{modelName, configKey, querysetStoreLabel, astHash, groundTruthSuffix}, keySep)
}

// IsModelStoreKey reports whether key belongs to a model store.
func IsModelStoreKey(key string) bool {
	return strings.HasPrefix(key, modelStorePrefix+keySep)
}

// IsQuerysetStoreKey reports whether key belongs to a queryset store.
func IsQuerysetStoreKey(key string) bool {
	return strings.Contains(key, keySep+querysetStoreLabel+keySep)
}
