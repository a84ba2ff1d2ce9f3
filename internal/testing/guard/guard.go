package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("RECYLETO_TEST_MODE") == "" {
			_ = os.Setenv("RECYLETO_TEST_MODE", "1")
		}
	})
}
