package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		panic(err)
	}
}

// force the timezone to Rio de Janeiro's, the utility's billing cycle is
// a calendar month in local time and a server on UTC would flip the
// month/year comparison a few hours too early at each month boundary.
func Now() time.Time {
	return time.Now().In(Location)
}
