package bcerr

import "github.com/hashicorp/go-multierror"

// CombineClose runs every closer and collects all of their errors instead
// of stopping at (or hiding all but) the first, so a caller tearing down
// several resources — two UDP sockets, a lock and a file — learns about
// every failure at once.
func CombineClose(closers ...func() error) error {
	var result *multierror.Error
	for _, c := range closers {
		if err := c(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
