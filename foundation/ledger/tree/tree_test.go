package tree

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

type dataError struct{}

func (dataError) Error() string          { return "execution reverted: custom error" }
func (dataError) ErrorData() interface{} { return "0x08c379a0" }

func TestABI(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(treeABI))
	if err != nil {
		t.Fatalf("Should be able to parse the contract abi: %s", err)
	}

	for _, name := range []string{"carve", "read", "peruse", "scratch"} {
		if _, exists := parsed.Methods[name]; !exists {
			t.Fatalf("Should have method %s.", name)
		}
	}

	for _, name := range []string{eventStored, eventDeleted} {
		ev, exists := parsed.Events[name]
		if !exists {
			t.Fatalf("Should have event %s.", name)
		}
		if !ev.Inputs[0].Indexed {
			t.Fatalf("Should index the carving id of %s.", name)
		}
	}

	if len(parsed.Events[eventStored].Inputs.NonIndexed()) != 4 {
		t.Fatalf("Should carry the content of a stored carving in the log data.")
	}
}

func TestIsRevert(t *testing.T) {
	if !isRevert(dataError{}) {
		t.Fatalf("Should treat errors carrying revert data as reverts.")
	}

	if !isRevert(errors.New("execution reverted")) {
		t.Fatalf("Should treat the revert message as a revert.")
	}

	if isRevert(errors.New("dial tcp: connection refused")) {
		t.Fatalf("Should not treat transport failures as reverts.")
	}
}
