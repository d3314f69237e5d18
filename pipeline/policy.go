package pipeline

import (
	"media-pipeline/constant"
	"media-pipeline/dto"
)

type DeviceClass string

const (
	DeviceClassMobile  DeviceClass = "mobile"
	DeviceClassDesktop DeviceClass = "desktop"
)

// CompressPolicy decides whether an asset goes through the transcoder before
// upload. It is injectable so the decision logic tests independently of
// device detection.
type CompressPolicy func(asset dto.MediaAsset, class DeviceClass) bool

const mobileCompressFloorBytes = 2 << 20

// DefaultCompressPolicy compresses everything above the threshold, and on
// mobile devices anything above a much lower floor, since mobile captures
// are rarely worth uploading raw.
func DefaultCompressPolicy(asset dto.MediaAsset, class DeviceClass) bool {
	if class == DeviceClassMobile {
		return asset.Size > mobileCompressFloorBytes
	}
	return asset.Size > constant.CompressionThresholdBytes
}
