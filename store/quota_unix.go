//go:build linux || darwin

package store

import "golang.org/x/sys/unix"

func quotaInfo(dir string) QuotaInfo {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return QuotaInfo{Supported: false}
	}
	total := int64(stat.Blocks) * int64(stat.Bsize)
	free := int64(stat.Bavail) * int64(stat.Bsize)
	return QuotaInfo{
		Supported:  true,
		UsageBytes: total - free,
		TotalBytes: total,
	}
}
