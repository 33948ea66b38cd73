//go:build !linux && !darwin

package store

func quotaInfo(string) QuotaInfo {
	return QuotaInfo{Supported: false}
}
