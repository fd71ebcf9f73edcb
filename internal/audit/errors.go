package audit

import (
	"errors"

	"github.com/birbparty/qcloud-nest/sdk"
)

// ErrInvalidRecord is returned for records missing service or action
var ErrInvalidRecord = errors.New("call record requires service and action")

func asSDKError(err error) (*sdk.Error, bool) {
	var sdkErr *sdk.Error
	if errors.As(err, &sdkErr) {
		return sdkErr, true
	}
	return nil, false
}
