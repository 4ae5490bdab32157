package server

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reddwarf/sgs/common/stats"
	"github.com/reddwarf/sgs/scheduler/domain"
)

type reservationCall func(Reservation) error

func use(r Reservation) error    { return r.Use() }
func cancel(r Reservation) error { return r.Cancel() }

func Test_Reservation_TwoCallOrderings(t *testing.T) {
	tests := []struct {
		name        string
		first       reservationCall
		second      reservationCall
		secondErr   error
		expectQueue int
	}{
		{"use then use", use, use, ErrReservationUsed, 1},
		{"use then cancel", use, cancel, ErrReservationUsed, 1},
		{"cancel then use", cancel, use, ErrReservationCancelled, 0},
		{"cancel then cancel", cancel, cancel, ErrReservationCancelled, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := makeDefaultScheduler()
			defer s.Stop()

			r, err := s.ReserveTask(okTask("alice", domain.Normal))
			require.NoError(t, err)
			assert.Equal(t, 0, s.QueueDepth(), "reserving must not enqueue")

			assert.NoError(t, tt.first(r))
			assert.Equal(t, tt.secondErr, tt.second(r))
			assert.Equal(t, tt.expectQueue, s.QueueDepth())
		})
	}
}

func Test_Reservation_GroupOrderings(t *testing.T) {
	for _, first := range []reservationCall{use, cancel} {
		for _, second := range []reservationCall{use, cancel} {
			s, _ := makeDefaultScheduler()
			r, err := s.ReserveTasks([]*domain.Task{okTask("a", domain.Normal), okTask("b", domain.Low)})
			require.NoError(t, err)
			assert.NoError(t, first(r))
			assert.Error(t, second(r))
			s.Stop()
		}
	}
}

func Test_Reservation_RejectsRecurring(t *testing.T) {
	s, _ := makeDefaultScheduler()
	defer s.Stop()

	task := okTask("alice", domain.Normal)
	task.Period = time.Second
	_, err := s.ReserveTask(task)
	assert.Equal(t, ErrRecurringReservation, err)
}

func Test_Reservation_GroupAllOrNothing(t *testing.T) {
	s, deps := makeDefaultScheduler()
	defer s.Stop()

	_, err := s.ReserveTasks([]*domain.Task{okTask("a", domain.Normal), nil})
	assert.Equal(t, domain.ErrNilTask, errors.Cause(err))

	// nothing held: the full capacity is still available
	stats.VerifyStats("group", deps.registry, t, map[string]stats.Rule{
		stats.SchedReservationsGauge: {Checker: stats.DoesNotExistTest},
	})

	r, err := s.ReserveTasks([]*domain.Task{okTask("a", domain.Normal), okTask("b", domain.Normal)})
	require.NoError(t, err)
	stats.VerifyStats("group", deps.registry, t, map[string]stats.Rule{
		stats.SchedReservationsGauge: {Checker: stats.Int64EqTest, Value: 2},
	})
	require.NoError(t, r.Use())
	assert.Len(t, s.DequeueTasks(5), 2)
	stats.VerifyStats("group", deps.registry, t, map[string]stats.Rule{
		stats.SchedReservationsGauge: {Checker: stats.Int64EqTest, Value: 0},
	})
}

func Test_Reservation_RejectedGroupLeavesTasksUntouched(t *testing.T) {
	s, _ := makeDefaultScheduler()
	defer s.Stop()

	urgent := okTask("a", domain.RealTime)
	_, err := s.ReserveTasks([]*domain.Task{urgent, okTask("", domain.Normal)})
	assert.Equal(t, domain.ErrNoOwner, errors.Cause(err))
	assert.Equal(t, domain.RealTime, urgent.Priority)
	assert.True(t, urgent.StartTime.IsZero())

	_, err = s.ReserveTasks([]*domain.Task{urgent})
	require.NoError(t, err)
	assert.Equal(t, domain.High, urgent.Priority)
}

func Test_Reservation_UseAfterStop(t *testing.T) {
	s, _ := makeDefaultScheduler()
	r, err := s.ReserveTask(okTask("alice", domain.Normal))
	require.NoError(t, err)
	s.Stop()
	assert.Equal(t, ErrShutdown, r.Use())
	assert.Equal(t, ErrReservationUsed, r.Cancel())
}
