package transaction

const TxInGen = 0xff

const TxOutToKey = 2
const TxOutToTaggedKey = 3

// MaxOutputCount soft cap used when preallocating outputs
const MaxOutputCount = 8192

// MaxExtraSize Largest extra field accepted while decoding
const MaxExtraSize = 1 << 16
