package metrics

import "errors"

// ErrSystemSampler is returned by RunSystemSampler once its context ends.
var ErrSystemSampler = errors.New("metrics system sampler stopped")
