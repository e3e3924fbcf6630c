package modbus

// Callback receives the outcome of a request sent by a Client. Exactly one of
// the arguments is non-nil. If the server answered with an exception
// response, err is the ExceptionCode.
type Callback func(resp Response, err error)

// transaction is a pending client request.
type transaction struct {
	// id is the transaction identifier sent in the MBAP header.
	id uint16

	// unit is the unit identifier the request was addressed to.
	unit UnitID

	// request is the request sent. Its function code and quantities determine
	// the expected shape of the response.
	request Request

	// callback is consumed when the transaction completes.
	callback Callback
}

// transactionTable maps transaction identifiers to pending transactions.
// It is owned by the client strand and not safe for concurrent use.
type transactionTable struct {
	// pending maps transaction identifiers to their transaction.
	pending map[uint16]*transaction

	// nextID is the next transaction identifier to hand out. It wraps around
	// modulo 2^16.
	nextID uint16
}

// newTransactionTable returns an empty transaction table.
func newTransactionTable() *transactionTable {
	return &transactionTable{
		pending: make(map[uint16]*transaction),
	}
}

// allocate creates a transaction with a fresh identifier. Identifiers are
// only reused after the transaction holding them completed; if the next
// identifier is still in use, allocate fails.
func (t *transactionTable) allocate(
	unit UnitID, req Request, cb Callback,
) (*transaction, error) {
	id := t.nextID
	if _, ok := t.pending[id]; ok {
		return nil, ErrTransactionIDInUse
	}
	t.nextID++
	tx := &transaction{
		id:       id,
		unit:     unit,
		request:  req,
		callback: cb,
	}
	t.pending[id] = tx
	return tx, nil
}

// take removes the transaction with the given identifier from the table and
// returns it, or nil if there is none.
func (t *transactionTable) take(id uint16) *transaction {
	tx := t.pending[id]
	if tx != nil {
		delete(t.pending, id)
	}
	return tx
}

// len returns the number of pending transactions.
func (t *transactionTable) len() int {
	return len(t.pending)
}

// failAll completes every pending transaction with err and empties the table.
func (t *transactionTable) failAll(err error) {
	pending := t.pending
	t.pending = make(map[uint16]*transaction)
	for _, tx := range pending {
		tx.callback(nil, err)
	}
}
