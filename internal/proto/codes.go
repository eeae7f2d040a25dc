package proto

// Numeric error codes are part of the wire contract. Never renumber.
const (
	ErrDB                   = 1001
	ErrInvalidSchema        = 1002
	ErrNotAuthenticated     = 1003
	ErrSectorNotFound       = 1004
	ErrPlanetNotFound       = 1005
	ErrAutopilotPathInvalid = 1006
	ErrSerialization        = 1007
	ErrVersionNotSupported  = 1008
	ErrServerError          = 1009
	ErrUnknownCommand       = 1010
)

const (
	RefNoWarpLink        = 2001
	RefTurnCostExceeds   = 2002
	RefSafeZoneOnly      = 2003
	RefInsufficientFunds = 2004
	RefInsufficientStock = 2005
	RefHoldsExceeded     = 2006
	RefNotHere           = 2007
	RefPermissionDenied  = 2008
	RefRateLimited       = 2009
	RefConflict          = 2010
	RefPrecondition      = 2011
	RefNameTaken         = 2012
	RefAlreadyInProgress = 2013
	RefNotAuthenticated  = 2014
)
