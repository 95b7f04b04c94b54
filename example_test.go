package hotpatch_test

import (
	"fmt"

	"github.com/pboyd/hotpatch"
)

func ExampleParseConvention() {
	for _, name := range []string{"thiscall", "go"} {
		c, _ := hotpatch.ParseConvention(name)
		fmt.Println(name, c)
	}
	// Output:
	// thiscall c
	// go go
}
