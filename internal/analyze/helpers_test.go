package analyze

import (
	"fmt"

	"github.com/dairui1/vdt/internal/model"
)

func ev(ts int64, level model.Level, module, fn string) model.Event {
	return model.Event{TS: ts, Level: level, Module: module, Func: fn, Msg: fmt.Sprintf("%s.%s at %d", module, fn, ts)}
}

// stream returns n info events for app:tick at 1s spacing, with the indices
// listed in errs turned into db:connect errors.
func stream(n int, errs ...int) []model.Event {
	isErr := make(map[int]bool)
	for _, i := range errs {
		isErr[i] = true
	}
	events := make([]model.Event, n)
	for i := range events {
		if isErr[i] {
			events[i] = ev(int64(i)*1000, model.LevelError, "db", "connect")
		} else {
			events[i] = ev(int64(i)*1000, model.LevelInfo, "app", "tick")
		}
	}
	return events
}

func seq(from, to int) []int {
	var out []int
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}
