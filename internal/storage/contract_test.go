package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ais_ingest/internal/lookup"
	"ais_ingest/internal/vessel"
)

// contractMMSIs lists every MMSI the contract writes, so backends with
// shared state can clean up around each run.
var contractMMSIs = []int64{
	366123456, 366000001, 366000002, 366000003, 366000004,
	366000005, 366000006, 366000007, 366000008, 366000009,
	563000001, 563000002, 563000003,
}

func strPtr(s string) *string     { return &s }
func intPtr(i int) *int           { return &i }
func floatPtr(f float64) *float64 { return &f }

func positionUpdate(mmsi int64, lat, lon float64, ts time.Time) vessel.Update {
	return vessel.Update{
		MMSI:       mmsi,
		Latitude:   floatPtr(lat),
		Longitude:  floatPtr(lon),
		VesselType: lookup.Other,
		Flag:       lookup.FlagForMMSI(mmsi),
		Timestamp:  ts,
		DataSource: "aisstream",
	}
}

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("first position creates vessel with defaults", func(t *testing.T) {
		s := newStore(t)
		res, err := s.Upsert(ctx, positionUpdate(366123456, 1.30, 103.80, base))
		require.NoError(t, err)
		assert.True(t, res.Created)
		require.NotNil(t, res.Position)

		v, err := s.GetVessel(ctx, 366123456)
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, "Vessel-366123456", v.Name)
		assert.Equal(t, "IMO366123456", v.IMONumber)
		assert.Equal(t, lookup.Other, v.VesselType)
		assert.Equal(t, "US", v.Flag)
		assert.Equal(t, lookup.StatusActive, v.Status)
		assert.Equal(t, "aisstream", v.DataSource)
		assert.Equal(t, 1, v.MsgCount)
		require.NotNil(t, v.Latitude)
		assert.InDelta(t, 1.30, *v.Latitude, 1e-9)
		require.NotNil(t, v.LastPositionUpdate)
		assert.True(t, v.LastPositionUpdate.Equal(base))

		route, err := s.ListRoute(ctx, 366123456, time.Time{}, 0)
		require.NoError(t, err)
		require.Len(t, route, 1)
		assert.InDelta(t, 1.30, route[0].Latitude, 1e-9)
		assert.InDelta(t, 103.80, route[0].Longitude, 1e-9)
		assert.True(t, route[0].Timestamp.Equal(base))
	})

	t.Run("same update twice gives one snapshot and two history rows", func(t *testing.T) {
		s := newStore(t)
		u := positionUpdate(366000001, 10, 20, base)
		u.Speed = floatPtr(12.5)
		u.NavStatusCode = intPtr(1)

		_, err := s.Upsert(ctx, u)
		require.NoError(t, err)
		first, err := s.GetVessel(ctx, 366000001)
		require.NoError(t, err)

		res, err := s.Upsert(ctx, u)
		require.NoError(t, err)
		assert.False(t, res.Created)
		second, err := s.GetVessel(ctx, 366000001)
		require.NoError(t, err)

		assert.Equal(t, first.Name, second.Name)
		assert.Equal(t, first.VesselType, second.VesselType)
		assert.Equal(t, first.Flag, second.Flag)
		assert.Equal(t, *first.Latitude, *second.Latitude)
		assert.Equal(t, *first.Speed, *second.Speed)
		assert.Equal(t, "anchored", second.Status)
		assert.Equal(t, 2, second.MsgCount)

		route, err := s.ListRoute(ctx, 366000001, time.Time{}, 0)
		require.NoError(t, err)
		assert.Len(t, route, 2)
	})

	t.Run("one row per mmsi", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 3; i++ {
			for _, mmsi := range []int64{563000001, 563000002, 563000003} {
				_, err := s.Upsert(ctx, positionUpdate(mmsi, float64(i), float64(i), base.Add(time.Duration(i)*time.Minute)))
				require.NoError(t, err)
			}
		}

		recent, err := s.ListRecentlyUpdated(ctx, time.Time{})
		require.NoError(t, err)
		counts := make(map[int64]int)
		for _, v := range recent {
			counts[v.MMSI]++
		}
		for _, mmsi := range []int64{563000001, 563000002, 563000003} {
			assert.Equal(t, 1, counts[mmsi], "mmsi %d", mmsi)
		}
	})

	t.Run("type and flag are never downgraded", func(t *testing.T) {
		s := newStore(t)
		u := vessel.Update{MMSI: 366000002, VesselType: lookup.Cargo, Flag: "US"}
		_, err := s.Upsert(ctx, u)
		require.NoError(t, err)

		_, err = s.Upsert(ctx, vessel.Update{MMSI: 366000002, VesselType: lookup.Other, Flag: lookup.UnknownFlag})
		require.NoError(t, err)

		v, err := s.GetVessel(ctx, 366000002)
		require.NoError(t, err)
		assert.Equal(t, lookup.Cargo, v.VesselType)
		assert.Equal(t, "US", v.Flag)

		_, err = s.Upsert(ctx, vessel.Update{MMSI: 366000002, VesselType: lookup.Tanker})
		require.NoError(t, err)
		v, err = s.GetVessel(ctx, 366000002)
		require.NoError(t, err)
		assert.Equal(t, lookup.Cargo, v.VesselType, "specific values are not replaced either")
	})

	t.Run("placeholder type is filled later", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Upsert(ctx, positionUpdate(366000003, 1, 1, base))
		require.NoError(t, err)
		_, err = s.Upsert(ctx, vessel.Update{MMSI: 366000003, VesselType: lookup.Tanker, Name: strPtr("GULF CRUDE")})
		require.NoError(t, err)

		v, err := s.GetVessel(ctx, 366000003)
		require.NoError(t, err)
		assert.Equal(t, lookup.Tanker, v.VesselType)
		assert.Equal(t, "GULF CRUDE", v.Name)
		require.NotNil(t, v.Latitude, "static update keeps the stored position")
	})

	t.Run("static update appends no history", func(t *testing.T) {
		s := newStore(t)
		res, err := s.Upsert(ctx, vessel.Update{
			MMSI:      366000004,
			IMONumber: strPtr("IMO9074729"),
			CallSign:  strPtr("WDC1234"),
		})
		require.NoError(t, err)
		assert.Nil(t, res.Position)

		v, err := s.GetVessel(ctx, 366000004)
		require.NoError(t, err)
		assert.Equal(t, "IMO9074729", v.IMONumber)
		assert.Equal(t, "WDC1234", v.CallSign)
		assert.False(t, v.HasPosition())
		assert.Nil(t, v.LastPositionUpdate)

		route, err := s.ListRoute(ctx, 366000004, time.Time{}, 0)
		require.NoError(t, err)
		assert.Empty(t, route)
	})

	t.Run("last position update never moves backwards", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Upsert(ctx, positionUpdate(366000005, 5, 5, base.Add(time.Hour)))
		require.NoError(t, err)
		_, err = s.Upsert(ctx, positionUpdate(366000005, 6, 6, base))
		require.NoError(t, err)

		v, err := s.GetVessel(ctx, 366000005)
		require.NoError(t, err)
		require.NotNil(t, v.LastPositionUpdate)
		assert.True(t, v.LastPositionUpdate.Equal(base.Add(time.Hour)))
		assert.InDelta(t, 6, *v.Latitude, 1e-9, "last write wins for coordinates")

		route, err := s.ListRoute(ctx, 366000005, time.Time{}, 0)
		require.NoError(t, err)
		assert.Len(t, route, 2)
	})

	t.Run("route is limited to the most recent rows in time order", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 5; i++ {
			_, err := s.Upsert(ctx, positionUpdate(366000006, float64(i), float64(i), base.Add(time.Duration(i)*time.Minute)))
			require.NoError(t, err)
		}

		route, err := s.ListRoute(ctx, 366000006, time.Time{}, 3)
		require.NoError(t, err)
		require.Len(t, route, 3)
		assert.InDelta(t, 2, route[0].Latitude, 1e-9)
		assert.InDelta(t, 4, route[2].Latitude, 1e-9)
		assert.True(t, route[0].Timestamp.Before(route[2].Timestamp))

		route, err = s.ListRoute(ctx, 366000006, base.Add(3*time.Minute), 0)
		require.NoError(t, err)
		assert.Len(t, route, 2)
	})

	t.Run("concurrent disjoint updates converge", func(t *testing.T) {
		s := newStore(t)
		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, 2*n)
		for i := 0; i < n; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := s.Upsert(ctx, vessel.Update{MMSI: 366000007, Name: strPtr("EVER GIVEN")})
				errs <- err
			}()
			go func() {
				defer wg.Done()
				_, err := s.Upsert(ctx, vessel.Update{MMSI: 366000007, Speed: floatPtr(8.5), CallSign: strPtr("H3RC")})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		v, err := s.GetVessel(ctx, 366000007)
		require.NoError(t, err)
		assert.Equal(t, "EVER GIVEN", v.Name)
		assert.Equal(t, "H3RC", v.CallSign)
		require.NotNil(t, v.Speed)
		assert.InDelta(t, 8.5, *v.Speed, 1e-9)
		assert.Equal(t, 2*n, v.MsgCount, "no lost updates")
	})

	t.Run("enrichment candidates and classification", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Upsert(ctx, vessel.Update{MMSI: 366000008, Name: strPtr("PACIFIC TRAWLER")})
		require.NoError(t, err)
		_, err = s.Upsert(ctx, vessel.Update{MMSI: 366000009, VesselType: lookup.Cargo, Flag: "US"})
		require.NoError(t, err)

		candidates, err := s.ListNeedingEnrichment(ctx, 0)
		require.NoError(t, err)
		var mmsis []int64
		for _, v := range candidates {
			mmsis = append(mmsis, v.MMSI)
		}
		assert.Contains(t, mmsis, int64(366000008))
		assert.NotContains(t, mmsis, int64(366000009))

		changed, err := s.ApplyClassification(ctx, 366000008, lookup.Fishing, "US")
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = s.ApplyClassification(ctx, 366000008, lookup.Other, lookup.UnknownFlag)
		require.NoError(t, err)
		assert.False(t, changed)

		changed, err = s.ApplyClassification(ctx, 366000009, lookup.Tanker, "GB")
		require.NoError(t, err)
		assert.False(t, changed)

		v, err := s.GetVessel(ctx, 366000008)
		require.NoError(t, err)
		assert.Equal(t, lookup.Fishing, v.VesselType)
		assert.Equal(t, "US", v.Flag)

		_, err = s.ApplyClassification(ctx, 999999998, lookup.Cargo, "US")
		assert.True(t, errors.Is(err, ErrNotFound), fmt.Sprint(err))
	})

	t.Run("missing vessel", func(t *testing.T) {
		s := newStore(t)
		v, err := s.GetVessel(ctx, 999999999)
		require.NoError(t, err)
		assert.Nil(t, v)
	})
}
